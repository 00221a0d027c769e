package requirements

import "context"

type (
	// Registry is the remote requirements API the engine submits to.
	Registry interface {
		// FetchSubmissions returns the user's submissions; callers pick
		// the one with StatusSubmitted.
		FetchSubmissions(ctx context.Context, userKey string) ([]Submission, error)
		// Submit sends items, pending uploads and staged removals in one
		// multipart call. Upload progress (0-100) is reported through
		// req.Progress when set.
		Submit(ctx context.Context, userKey string, req SubmitRequest) error
		// DeleteFile best-effort deletes a stored file; the destroyed
		// result is informational only.
		DeleteFile(ctx context.Context, publicID string) (destroyed bool, err error)
	}

	Submission struct {
		ID     string          `json:"id,omitempty"`
		Status string          `json:"status"`
		Items  []SubmittedItem `json:"items"`
	}

	SubmittedItem struct {
		Label string `json:"label"`
		Note  string `json:"note,omitempty"`
		File  *File  `json:"file,omitempty"`
	}

	// Upload is one pending raw file keyed to its item.
	Upload struct {
		ItemID   string
		Filename string
		Content  []byte
	}

	SubmitRequest struct {
		Items            []Item
		Uploads          []Upload
		RemovedPublicIDs []string
		Resubmit         bool
		Progress         func(pct int)
	}
)
