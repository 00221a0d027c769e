package registrysvc

import (
	"context"
	"sync"

	"github.com/kymaka/elimu/core/requirements"
)

// DummyRegistry records calls in memory; used in tests and local dev.
type DummyRegistry struct {
	sync.Mutex

	Submissions []requirements.Submission
	FetchErr    error
	SubmitErr   error
	DeleteErr   error
	Destroyed   bool

	SubmitCalls []requirements.SubmitRequest
	DeletedIDs  []string
}

var _ requirements.Registry = (*DummyRegistry)(nil)

func NewDummyRegistry() *DummyRegistry {
	return &DummyRegistry{Destroyed: true}
}

func (r *DummyRegistry) FetchSubmissions(context.Context, string) ([]requirements.Submission, error) {
	r.Lock()
	defer r.Unlock()
	if r.FetchErr != nil {
		return nil, r.FetchErr
	}
	return r.Submissions, nil
}

func (r *DummyRegistry) Submit(_ context.Context, _ string, req requirements.SubmitRequest) error {
	r.Lock()
	defer r.Unlock()
	if r.SubmitErr != nil {
		return r.SubmitErr
	}
	r.SubmitCalls = append(r.SubmitCalls, req)
	if req.Progress != nil {
		req.Progress(100)
	}
	return nil
}

func (r *DummyRegistry) DeleteFile(_ context.Context, publicID string) (bool, error) {
	r.Lock()
	defer r.Unlock()
	if r.DeleteErr != nil {
		return false, r.DeleteErr
	}
	r.DeletedIDs = append(r.DeletedIDs, publicID)
	return r.Destroyed, nil
}
