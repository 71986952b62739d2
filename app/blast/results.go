package blast

import (
	"encoding/xml"
	"fmt"
	"io"
	"strings"
)

// Hit is one alignment extracted from the BLAST XML output. JSON field
// names follow the shape stored with each task and rendered on the
// results page.
type Hit struct {
	Title      string  `json:"title"`
	Length     int     `json:"length"`
	Score      float64 `json:"score"`
	EValue     float64 `json:"e_value"`
	QueryStart int     `json:"query_start"`
	QueryEnd   int     `json:"query_end"`
	QuerySeq   string  `json:"qseq"`
	Match      string  `json:"match"`
	HitSeq     string  `json:"hseq"`
}

// xml mapping for the NCBI BlastOutput DTD, limited to the elements we keep
type blastOutput struct {
	Iterations []struct {
		Hits []xmlHit `xml:"Iteration_hits>Hit"`
	} `xml:"BlastOutput_iterations>Iteration"`
}

type xmlHit struct {
	ID   string   `xml:"Hit_id"`
	Def  string   `xml:"Hit_def"`
	Len  int      `xml:"Hit_len"`
	Hsps []xmlHsp `xml:"Hit_hsps>Hsp"`
}

type xmlHsp struct {
	Score     float64 `xml:"Hsp_score"`
	EValue    float64 `xml:"Hsp_evalue"`
	QueryFrom int     `xml:"Hsp_query-from"`
	QueryTo   int     `xml:"Hsp_query-to"`
	QSeq      string  `xml:"Hsp_qseq"`
	Midline   string  `xml:"Hsp_midline"`
	HSeq      string  `xml:"Hsp_hseq"`
}

// ParseResults reads BLAST XML output and flattens every HSP of every hit
// of every iteration into a single ordered list, the same way the results
// are summarized for storage.
func ParseResults(r io.Reader) ([]Hit, error) {
	var out blastOutput
	dec := xml.NewDecoder(r)
	// NCBI serves the DTD reference but the payload is plain XML
	dec.Strict = false
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("can't decode blast xml: %w", err)
	}

	var hits []Hit
	for _, iter := range out.Iterations {
		for _, hit := range iter.Hits {
			title := strings.TrimSpace(strings.TrimSpace(hit.ID) + " " + strings.TrimSpace(hit.Def))
			for _, hsp := range hit.Hsps {
				hits = append(hits, Hit{
					Title:      title,
					Length:     hit.Len,
					Score:      hsp.Score,
					EValue:     hsp.EValue,
					QueryStart: hsp.QueryFrom,
					QueryEnd:   hsp.QueryTo,
					QuerySeq:   hsp.QSeq,
					Match:      hsp.Midline,
					HitSeq:     hsp.HSeq,
				})
			}
		}
	}
	return hits, nil
}
