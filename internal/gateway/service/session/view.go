package session

import (
	"time"

	"gitdiagram/internal/orchestrator"
)

// View is the wire form of an orchestrator snapshot shared by the RPC and
// websocket surfaces. Absent values are empty.
type View struct {
	Repo            string `json:"repo,omitempty"`
	Status          string `json:"status"`
	Diagram         string `json:"diagram,omitempty"`
	Explanation     string `json:"explanation,omitempty"`
	Error           string `json:"error,omitempty"`
	Cost            string `json:"cost,omitempty"`
	Answer          string `json:"answer,omitempty"`
	Scenarios       string `json:"scenarios,omitempty"`
	TokenCount      int    `json:"tokenCount,omitempty"`
	FromCache       bool   `json:"fromCache,omitempty"`
	LastGeneratedAt string `json:"lastGeneratedAt,omitempty"`
	Version         uint64 `json:"version"`
}

func NewView(snap orchestrator.Snapshot) View {
	v := View{
		Status:      snap.Status.String(),
		Diagram:     snap.Artifact.Diagram,
		Explanation: snap.Artifact.Explanation,
		Error:       snap.Error,
		Cost:        snap.Cost,
		Answer:      snap.Answer,
		Scenarios:   snap.Scenarios,
		TokenCount:  snap.TokenCount,
		FromCache:   snap.FromCache,
		Version:     snap.Version,
	}
	if !snap.Identity.IsZero() {
		v.Repo = snap.Identity.Key()
	}
	if !snap.LastGeneratedAt.IsZero() {
		v.LastGeneratedAt = snap.LastGeneratedAt.UTC().Format(time.RFC3339)
	}
	return v
}

// Fields flattens the view for google.protobuf.Struct encoding, omitting
// absent values the same way the JSON form does.
func (v View) Fields() map[string]any {
	out := map[string]any{
		"status":  v.Status,
		"version": v.Version,
	}
	put := func(k, val string) {
		if val != "" {
			out[k] = val
		}
	}
	put("repo", v.Repo)
	put("diagram", v.Diagram)
	put("explanation", v.Explanation)
	put("error", v.Error)
	put("cost", v.Cost)
	put("answer", v.Answer)
	put("scenarios", v.Scenarios)
	put("lastGeneratedAt", v.LastGeneratedAt)
	if v.TokenCount > 0 {
		out["tokenCount"] = v.TokenCount
	}
	if v.FromCache {
		out["fromCache"] = true
	}
	return out
}
