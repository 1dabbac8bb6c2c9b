package engine

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"flowherd/pkg/model"
)

// Server talks to a long-lived workflow-engine server over its REST API.
// Task ids are server-assigned.
type Server struct {
	id     string
	base   string
	token  string
	client *http.Client
}

func NewServer(id, baseURL, token string) *Server {
	return &Server{
		id:     id,
		base:   baseURL,
		token:  token,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (s *Server) ID() string { return s.id }

// URL returns the server base URL, used when decorating metadata.
func (s *Server) URL() string { return s.base }

// Start uploads the prepared files as a multipart submission and returns the
// server-assigned task id.
func (s *Server) Start(wid, workflowPath, inputsPath, depsPath string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	files := []struct{ field, path string }{
		{"workflowSource", workflowPath},
		{"workflowInputs", inputsPath},
		{"workflowDependencies", depsPath},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		if err := attachFile(mw, f.field, f.path); err != nil {
			return "", err
		}
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	req, err := http.NewRequest(http.MethodPost, s.base+"/api/workflows/v1", &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("submit workflow %s: %w", wid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("submit workflow %s: server returned %d", wid, resp.StatusCode)
	}
	var out struct {
		ID     string `json:"id"`
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode submit response: %w", err)
	}
	log.Printf("server engine submitted wid=%s engineTid=%s status=%s", wid, out.ID, out.Status)
	return out.ID, nil
}

func attachFile(mw *multipart.Writer, field, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	part, err := mw.CreateFormFile(field, filepath.Base(path))
	if err != nil {
		return err
	}
	_, err = io.Copy(part, f)
	return err
}

func (s *Server) PollStatus(tid string) (model.TaskStatus, error) {
	var out struct {
		Status string `json:"status"`
	}
	if err := s.getJSON("/api/workflows/v1/"+tid+"/status", &out); err != nil {
		return model.StatusProcessing, err
	}
	return model.StatusFromEngine(out.Status), nil
}

// serverMetadata mirrors the server's metadata document shape.
type serverMetadata struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Failures []struct {
		Message string `json:"message"`
	} `json:"failures"`
	Calls map[string][]struct {
		ExecutionStatus string     `json:"executionStatus"`
		Start           *time.Time `json:"start"`
		End             *time.Time `json:"end"`
		Stdout          string     `json:"stdout"`
		Stderr          string     `json:"stderr"`
	} `json:"calls"`
}

func (s *Server) Metadata(tid string) (model.TaskMetadata, error) {
	var sm serverMetadata
	if err := s.getJSON("/api/workflows/v1/"+tid+"/metadata", &sm); err != nil {
		return model.TaskMetadata{}, err
	}
	meta := model.TaskMetadata{
		TID:        tid,
		EngineName: s.id,
		EngineURL:  s.base,
		Status:     model.StatusFromEngine(sm.Status),
	}
	for _, f := range sm.Failures {
		if meta.Error != "" {
			meta.Error += "; "
		}
		meta.Error += f.Message
	}
	for name, attempts := range sm.Calls {
		for _, a := range attempts {
			meta.Jobs = append(meta.Jobs, model.JobMetadata{
				ID:     name,
				Status: model.StatusFromEngine(a.ExecutionStatus),
				Start:  a.Start,
				Finish: a.End,
				Stdout: a.Stdout,
				Stderr: a.Stderr,
			})
		}
	}
	sortJobs(meta.Jobs)
	return meta, nil
}

func (s *Server) Outputs(tid string) (map[string]model.OutputValue, error) {
	var out struct {
		Outputs map[string]json.RawMessage `json:"outputs"`
	}
	if err := s.getJSON("/api/workflows/v1/"+tid+"/outputs", &out); err != nil {
		return nil, err
	}
	return model.DecodeOutputs(out.Outputs)
}

func (s *Server) Terminate(tid string) (model.TaskStatus, error) {
	if st, err := s.PollStatus(tid); err == nil && st.IsFinal() {
		return st, nil
	}
	req, err := http.NewRequest(http.MethodPost, s.base+"/api/workflows/v1/"+tid+"/abort", nil)
	if err != nil {
		return model.StatusAborted, err
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		// Best effort: the orchestrator stops waiting either way.
		log.Printf("abort request for %s failed: %v", tid, err)
		return model.StatusAborted, nil
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	return model.StatusAborted, nil
}

// RawMetadata returns the server's full metadata document verbatim.
func (s *Server) RawMetadata(tid string) (json.RawMessage, error) {
	req, err := http.NewRequest(http.MethodGet, s.base+"/api/workflows/v1/"+tid+"/metadata", nil)
	if err != nil {
		return nil, err
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch raw metadata for %s: %w", tid, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, fmt.Errorf("fetch raw metadata for %s: server returned %d", tid, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (s *Server) getJSON(path string, v any) error {
	req, err := http.NewRequest(http.MethodGet, s.base+path, nil)
	if err != nil {
		return err
	}
	s.authorize(req)
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("GET %s: server returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(v)
}

func (s *Server) authorize(req *http.Request) {
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
}

func sortJobs(jobs []model.JobMetadata) {
	for i := 1; i < len(jobs); i++ {
		for j := i; j > 0 && earlier(jobs[j], jobs[j-1]); j-- {
			jobs[j], jobs[j-1] = jobs[j-1], jobs[j]
		}
	}
}

// earlier orders jobs by start time, then id, so snapshots render stably.
func earlier(a, b model.JobMetadata) bool {
	switch {
	case a.Start == nil && b.Start == nil:
		return a.ID < b.ID
	case a.Start == nil:
		return false
	case b.Start == nil:
		return true
	case a.Start.Equal(*b.Start):
		return a.ID < b.ID
	default:
		return a.Start.Before(*b.Start)
	}
}
