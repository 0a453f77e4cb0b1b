package cleaner

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/sells-group/examclean/internal/resilience"
)

// first returns the first path in paths that exists in r.
func first(r gjson.Result, paths ...string) gjson.Result {
	for _, p := range paths {
		if v := r.Get(p); v.Exists() && v.Type != gjson.Null {
			return v
		}
	}
	return gjson.Result{}
}

func rawItems(r gjson.Result) []json.RawMessage {
	arr := r.Array()
	items := make([]json.RawMessage, len(arr))
	for i, item := range arr {
		items[i] = json.RawMessage(item.Raw)
	}
	return items
}

func decodeSubmit(body []byte) (*BatchSubmitResponse, error) {
	if !gjson.ValidBytes(body) {
		return nil, &resilience.MalformedResponseError{What: "batch submission is not valid JSON"}
	}
	r := gjson.ParseBytes(body)

	out := &BatchSubmitResponse{}
	if r.IsArray() {
		out.Results = rawItems(r)
		out.HasResults = true
		return out, nil
	}

	out.BatchID = first(r, "batchId", "batch_id", "batch.id").String()
	out.ResultsURL = first(r, "resultsUrl", "results_url", "resultsURL").String()
	if res := first(r, "results", "data.results"); res.IsArray() {
		out.Results = rawItems(res)
		out.HasResults = true
	}

	if out.BatchID == "" && out.ResultsURL == "" && !out.HasResults {
		return nil, &resilience.MalformedResponseError{What: "batch submission carried neither results nor a batch id"}
	}
	return out, nil
}

func decodeProgress(body []byte) (*Progress, error) {
	if !gjson.ValidBytes(body) {
		return nil, &resilience.MalformedResponseError{What: "batch progress is not valid JSON"}
	}
	r := gjson.ParseBytes(body)
	if p := r.Get("progress"); p.IsObject() {
		r = p
	}

	out := &Progress{
		Processed:  int(first(r, "processed", "completed").Int()),
		Total:      int(first(r, "total").Int()),
		Success:    int(first(r, "success", "succeeded").Int()),
		Errors:     int(first(r, "errors", "failed").Int()),
		Percentage: first(r, "percentage", "percent").Float(),
		ResultsURL: first(r, "resultsUrl", "results_url", "resultsURL").String(),
	}
	if res := first(r, "results"); res.IsArray() {
		out.Results = rawItems(res)
		out.HasResults = true
	}
	return out, nil
}

func decodeResults(body []byte, rawURL string) ([]json.RawMessage, error) {
	if !gjson.ValidBytes(body) {
		return nil, &resilience.MalformedResponseError{What: "results payload is not valid JSON", RawURL: rawURL}
	}
	r := gjson.ParseBytes(body)
	if r.IsArray() {
		return rawItems(r), nil
	}
	if res := first(r, "results", "data.results"); res.IsArray() {
		return rawItems(res), nil
	}
	return nil, &resilience.MalformedResponseError{What: "results payload has no results array", RawURL: rawURL}
}

func decodeCommit(body []byte) (*CommitResponse, error) {
	out := &CommitResponse{Success: true}
	if len(body) == 0 {
		return out, nil
	}
	if !gjson.ValidBytes(body) {
		return nil, &resilience.MalformedResponseError{What: "commit acknowledgement is not valid JSON"}
	}
	r := gjson.ParseBytes(body)
	if v := r.Get("success"); v.Exists() {
		out.Success = v.Bool()
	}
	out.CachesRebuilt = first(r, "cachesRebuilt", "caches_rebuilt", "cache_rebuilt").Bool()
	out.Message = first(r, "message", "error").String()
	return out, nil
}
