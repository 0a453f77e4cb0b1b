package cleaner

import (
	"encoding/json"
	"net/http"
)

// Response is the raw outcome of the final attempt of a Call.
type Response struct {
	Endpoint   string
	StatusCode int
	Body       []byte
	Attempts   int
}

// OK reports whether the response carries a 2xx status.
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode < 300
}

// NotFound reports a 404, which progress polling treats as "not yet available".
func (r *Response) NotFound() bool {
	return r != nil && r.StatusCode == http.StatusNotFound
}

// ProcessRequest is the body for POST /process.
type ProcessRequest struct {
	ExamName     string `json:"examName"`
	ModalityCode string `json:"modalityCode,omitempty"`
	Model        string `json:"model,omitempty"`
	Reranker     string `json:"reranker,omitempty"`
}

// BatchExam is one record inside a batch submission.
type BatchExam struct {
	DataSource   string `json:"data_source"`
	ExamCode     string `json:"exam_code"`
	ExamName     string `json:"exam_name"`
	ModalityCode string `json:"modality_code"`
}

// BatchRequest is the body for POST /batch.
type BatchRequest struct {
	Exams    []BatchExam `json:"exams"`
	Model    string      `json:"model,omitempty"`
	Reranker string      `json:"reranker,omitempty"`
}

// BatchSubmitResponse is the decoded answer to a batch submission. Any
// combination of fields may be empty.
type BatchSubmitResponse struct {
	BatchID    string
	ResultsURL string
	Results    []json.RawMessage
	// HasResults distinguishes an explicit empty results array from none.
	HasResults bool
}

// Progress is the decoded answer to GET /batch/{id}/progress.
type Progress struct {
	Processed  int
	Total      int
	Success    int
	Errors     int
	Percentage float64
	ResultsURL string
	Results    []json.RawMessage
	HasResults bool
}

// Complete reports whether every record of the batch has been processed.
func (p *Progress) Complete() bool {
	if p == nil {
		return false
	}
	if p.Total > 0 && p.Processed >= p.Total {
		return true
	}
	return p.Total == 0 && p.Percentage >= 100
}

// OriginalFields echoes the identifying fields of a committed record.
type OriginalFields struct {
	DataSource   string `json:"data_source"`
	ExamCode     string `json:"exam_code"`
	ExamName     string `json:"exam_name"`
	ModalityCode string `json:"modality_code"`
	CleanName    string `json:"clean_name"`
}

// DecisionPayload is one reviewer decision sent on commit.
type DecisionPayload struct {
	MappingID string         `json:"mappingId"`
	Decision  string         `json:"decision"`
	Notes     string         `json:"notes,omitempty"`
	Original  OriginalFields `json:"originalRecordFields"`
}

// CommitSummary counts the decisions in a commit payload.
type CommitSummary struct {
	Total   int `json:"total"`
	Approve int `json:"approve"`
	Reject  int `json:"reject"`
	Modify  int `json:"modify"`
	Skip    int `json:"skip"`
}

// CommitRequest is the body for POST /decisions.
type CommitRequest struct {
	Decisions []DecisionPayload `json:"decisions"`
	Summary   CommitSummary     `json:"summary"`
}

// CommitResponse is the acknowledgement of a commit.
type CommitResponse struct {
	Success       bool
	CachesRebuilt bool
	Message       string
}
