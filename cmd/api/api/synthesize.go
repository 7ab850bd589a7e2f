package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strconv"

	"github.com/c2h5oh/datasize"
	"github.com/nrednav/cuid2"
	"github.com/onkernel/qsynth/lib/domain"
	"github.com/onkernel/qsynth/lib/logger"
	mw "github.com/onkernel/qsynth/lib/middleware"
	"github.com/onkernel/qsynth/lib/qemu"
	"github.com/onkernel/qsynth/lib/synth"
	"github.com/samber/lo"
)

// maxRequestSize bounds guest definitions accepted over HTTP.
const maxRequestSize = 4 * datasize.MB

// SynthesizeRequest is the JSON envelope of POST /synthesize. Guest may be
// any guest definition document; YAML bodies can be posted directly with
// Content-Type application/yaml and the options as query parameters.
type SynthesizeRequest struct {
	Guest json.RawMessage `json:"guest"`
	// DryRun defaults to true: placeholders stand in for host resources.
	DryRun      *bool `json:"dry_run,omitempty"`
	StartPaused bool  `json:"start_paused,omitempty"`
	// Secrets maps a secret UUID or usage to its value.
	Secrets map[string][]byte `json:"secrets,omitempty"`
}

// PassedFile describes a descriptor the command line expects to inherit.
type PassedFile struct {
	FD   int    `json:"fd"`
	Name string `json:"name"`
}

// SynthesizeResponse is the synthesized command line.
type SynthesizeResponse struct {
	RunID   string       `json:"run_id"`
	DryRun  bool         `json:"dry_run"`
	Argv    []string     `json:"argv"`
	Env     []string     `json:"env"`
	Files   []PassedFile `json:"files"`
	Version string       `json:"capabilities_version"`
}

// errorStatus maps synthesis failures to HTTP statuses and error codes.
func errorStatus(err error) (int, string) {
	if errors.Is(err, synth.ErrInvalidRequest) {
		return http.StatusBadRequest, "invalid_request"
	}
	switch kind := qemu.KindOf(err); kind {
	case qemu.KindStructuralInvalid:
		return http.StatusBadRequest, kind
	case qemu.KindConfigUnsupported:
		return http.StatusUnprocessableEntity, kind
	case qemu.KindResourceAcquisition:
		return http.StatusServiceUnavailable, kind
	default:
		return http.StatusInternalServerError, kind
	}
}

func parseRequest(r *http.Request) (*domain.Guest, synth.Request, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, int64(maxRequestSize.Bytes())+1))
	if err != nil {
		return nil, synth.Request{}, fmt.Errorf("read body: %w", err)
	}
	if uint64(len(body)) > maxRequestSize.Bytes() {
		return nil, synth.Request{}, fmt.Errorf("body exceeds %s", maxRequestSize.HR())
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/yaml" || mediaType == "application/x-yaml" {
		q := r.URL.Query()
		req := synth.Request{DryRun: true}
		if v := q.Get("dry_run"); v != "" {
			if req.DryRun, err = strconv.ParseBool(v); err != nil {
				return nil, synth.Request{}, fmt.Errorf("dry_run: %w", err)
			}
		}
		if v := q.Get("start_paused"); v != "" {
			if req.StartPaused, err = strconv.ParseBool(v); err != nil {
				return nil, synth.Request{}, fmt.Errorf("start_paused: %w", err)
			}
		}
		def, err := domain.Parse(body)
		return def, req, err
	}

	var in SynthesizeRequest
	if err := json.Unmarshal(body, &in); err != nil {
		return nil, synth.Request{}, fmt.Errorf("decode request: %w", err)
	}
	if len(in.Guest) == 0 {
		return nil, synth.Request{}, fmt.Errorf("guest is required")
	}
	def, err := domain.Parse(in.Guest)
	if err != nil {
		return nil, synth.Request{}, err
	}
	return def, synth.Request{
		DryRun:      lo.FromPtrOr(in.DryRun, true),
		StartPaused: in.StartPaused,
		Secrets:     in.Secrets,
	}, nil
}

// Synthesize renders the command line for the posted guest. Descriptors
// acquired by non dry runs are released once the response is written.
func (s *ApiService) Synthesize(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := cuid2.Generate()
	log := logger.FromContext(ctx).With("run_id", runID)

	def, req, err := parseRequest(r)
	if err != nil {
		log.DebugContext(ctx, "rejected synthesis request", "error", err)
		mw.WriteError(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}
	log = log.With(logger.GuestKey, def.Name)

	res, err := s.SynthManager.Synthesize(logger.AddToContext(ctx, log), def, req)
	if err != nil {
		status, code := errorStatus(err)
		mw.WriteError(w, status, code, err.Error())
		return
	}
	defer func() {
		if cerr := res.Close(); cerr != nil {
			log.WarnContext(ctx, "failed to release descriptors", "error", cerr)
		}
	}()

	files := make([]PassedFile, len(res.Files))
	for i, f := range res.Files {
		files[i] = PassedFile{FD: 3 + i, Name: f.Name()}
	}
	writeJSON(w, http.StatusOK, SynthesizeResponse{
		RunID:   runID,
		DryRun:  req.DryRun,
		Argv:    res.Argv(),
		Env:     res.Env,
		Files:   files,
		Version: s.SynthManager.Capabilities().Version(),
	})
}
