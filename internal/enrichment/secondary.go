package enrichment

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/greenshelf/strainscan/internal/models"
)

// attributeItem is one entry of a secondary reply as models tend to write it:
// an object with a loosely typed intensity, or just a name.
type attributeItem struct {
	Name        string    `json:"name"`
	Intensity   intensity `json:"intensity"`
	Color       string    `json:"color"`
	Description string    `json:"description"`
}

func (a *attributeItem) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		*a = attributeItem{Name: name}
		return nil
	}
	type plain attributeItem
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*a = attributeItem(p)
	return nil
}

// intensity accepts numbers, numeric strings and null. Anything else decodes
// as 0, which annotate replaces with the default.
type intensity float64

func (i *intensity) UnmarshalJSON(data []byte) error {
	text := strings.Trim(strings.TrimSpace(string(data)), `"`)
	v, err := strconv.ParseFloat(strings.TrimSpace(text), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		v = 0
	}
	*i = intensity(v)
	return nil
}

// wrapperKeys are tried in order before any other array-valued key
var wrapperKeys = []string{"items", "terpenes", "effects"}

// decodeAttributes accepts either a bare array or an object wrapping one
func decodeAttributes(raw string) ([]models.SecondaryAttribute, error) {
	var payload json.RawMessage
	if err := DecodeJSON(raw, &payload); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", err)
	}

	var items []attributeItem
	arrayErr := json.Unmarshal(payload, &items)
	if arrayErr == nil {
		return nonEmpty(items)
	}

	var wrapper map[string]json.RawMessage
	if err := json.Unmarshal(payload, &wrapper); err != nil {
		return nil, fmt.Errorf("decode attributes: %w", arrayErr)
	}
	for _, key := range wrapperKeys {
		if inner, ok := wrapper[key]; ok {
			if err := json.Unmarshal(inner, &items); err != nil {
				return nil, fmt.Errorf("decode attributes %s: %w", key, err)
			}
			return nonEmpty(items)
		}
	}
	keys := make([]string, 0, len(wrapper))
	for key := range wrapper {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := json.Unmarshal(wrapper[key], &items); err == nil && len(items) > 0 {
			return nonEmpty(items)
		}
	}
	return nil, errors.New("decode attributes: no attribute array in reply")
}

func nonEmpty(items []attributeItem) ([]models.SecondaryAttribute, error) {
	if len(items) == 0 {
		return nil, errors.New("decode attributes: empty list")
	}
	out := make([]models.SecondaryAttribute, 0, len(items))
	for _, item := range items {
		out = append(out, models.SecondaryAttribute{
			Name:        item.Name,
			Intensity:   int(math.Round(float64(item.Intensity))),
			Color:       item.Color,
			Description: item.Description,
		})
	}
	return out, nil
}

// finishAttributes annotates, de-duplicates and truncates a decoded list
func finishAttributes(table map[string]attributeInfo, items []models.SecondaryAttribute) []models.SecondaryAttribute {
	seen := make(map[string]struct{}, len(items))
	out := make([]models.SecondaryAttribute, 0, len(items))
	for _, item := range items {
		item = annotate(table, item)
		if item.Name == "" {
			continue
		}
		key := normalizeKey(item.Name)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, item)
		if len(out) == maxListLen {
			break
		}
	}
	return out
}
