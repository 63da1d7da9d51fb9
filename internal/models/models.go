package models

import "time"

// Source identifies how a product was captured
type Source string

const (
	SourceImage Source = "image"
	SourceText  Source = "text"
	SourceVoice Source = "voice"
)

// Valid reports whether s is one of the known capture sources
func (s Source) Valid() bool {
	switch s {
	case SourceImage, SourceText, SourceVoice:
		return true
	}
	return false
}

// StrainType is the closed set of product types
type StrainType string

const (
	StrainIndica StrainType = "Indica"
	StrainSativa StrainType = "Sativa"
	StrainHybrid StrainType = "Hybrid"
)

// ProductRecord is the enriched, validated output of the identification pipeline
type ProductRecord struct {
	ID          string               `json:"id"`
	Name        string               `json:"name"`
	Type        StrainType           `json:"type"`
	Confidence  float64              `json:"confidence"`
	THC         float64              `json:"thc"`
	THCMin      float64              `json:"thc_min"`
	THCMax      float64              `json:"thc_max"`
	CBD         float64              `json:"cbd"`
	Lineage     string               `json:"lineage,omitempty"`
	Flavors     []string             `json:"flavors,omitempty"`
	Terpenes    []SecondaryAttribute `json:"terpenes"`
	Effects     []SecondaryAttribute `json:"effects"`
	Description string               `json:"description"`
	Source      Source               `json:"source"`
	OperatorID  string               `json:"operator_id,omitempty"`
	CreatedAt   time.Time            `json:"created_at"`
}

// SecondaryAttribute is one weighted, presentationally annotated tag (terpene or effect)
type SecondaryAttribute struct {
	Name        string `json:"name"`
	Intensity   int    `json:"intensity"` // 1-5
	Color       string `json:"color"`
	Description string `json:"description,omitempty"`
}

// Clone returns a deep copy of the record
func (r *ProductRecord) Clone() *ProductRecord {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Flavors = append([]string(nil), r.Flavors...)
	cp.Terpenes = append([]SecondaryAttribute(nil), r.Terpenes...)
	cp.Effects = append([]SecondaryAttribute(nil), r.Effects...)
	return &cp
}

// TerpeneNames returns the names of the record's terpenes in order
func (r *ProductRecord) TerpeneNames() []string {
	names := make([]string, 0, len(r.Terpenes))
	for _, t := range r.Terpenes {
		names = append(names, t.Name)
	}
	return names
}

// CaptureFrame is one raw frame read from a capture device. Never persisted.
type CaptureFrame struct {
	Seq        uint64
	CapturedAt time.Time
	Width      int
	Height     int
	// Pix holds RGBA pixels, 4 bytes per pixel, row-major
	Pix []byte
}

// Empty reports whether the frame carries no usable pixels
func (f *CaptureFrame) Empty() bool {
	return f == nil || f.Width <= 0 || f.Height <= 0 || len(f.Pix) < f.Width*f.Height*4
}

// SessionState is the lifecycle state of a scan session
type SessionState string

const (
	SessionActive SessionState = "active"
	SessionEnded  SessionState = "ended"
)

// ScanSession is an ordered, time-bounded accumulation of records from continuous capture
type ScanSession struct {
	ID         string           `json:"id"`
	OperatorID string           `json:"operator_id,omitempty"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    *time.Time       `json:"ended_at,omitempty"`
	State      SessionState     `json:"state"`
	EndReason  string           `json:"end_reason,omitempty"`
	Scans      []*ProductRecord `json:"scans"`
	LastScanAt *time.Time       `json:"last_scan_at,omitempty"`
}

// Clone returns a deep copy of the session
func (s *ScanSession) Clone() *ScanSession {
	if s == nil {
		return nil
	}
	cp := *s
	cp.Scans = make([]*ProductRecord, 0, len(s.Scans))
	for _, rec := range s.Scans {
		cp.Scans = append(cp.Scans, rec.Clone())
	}
	if s.EndedAt != nil {
		t := *s.EndedAt
		cp.EndedAt = &t
	}
	if s.LastScanAt != nil {
		t := *s.LastScanAt
		cp.LastScanAt = &t
	}
	return &cp
}

// StabilityMetrics is the transient per-tick capture quality assessment
type StabilityMetrics struct {
	Recommendation string  `json:"recommendation"`
	IsAcceptable   bool    `json:"is_acceptable"`
	Motion         float64 `json:"motion"`
	Sharpness      float64 `json:"sharpness"`
	Brightness     float64 `json:"brightness"`
}

// DuplicateGroup is a computed view of near-identical records. Members[0] is the one to keep.
type DuplicateGroup struct {
	AnchorName      string           `json:"anchor_name" yaml:"anchor_name"`
	Members         []*ProductRecord `json:"members" yaml:"-"`
	SimilarityScore int              `json:"similarity_score" yaml:"similarity_score"`
}
