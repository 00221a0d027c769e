package registrysvc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/kymaka/elimu/core"
	"github.com/kymaka/elimu/core/requirements"
)

type httpRegistry struct {
	baseURL string
	// client serves fetches and deletes with a bounded timeout;
	// submitClient carries multi-file payloads and disables it.
	client       *http.Client
	submitClient *http.Client
	logger       core.Logger
}

var _ requirements.Registry = (*httpRegistry)(nil)

func NewHTTPRegistry(conf *core.Config, logger core.Logger) *httpRegistry {
	return &httpRegistry{
		baseURL:      conf.Requirements.RegistryURL,
		client:       &http.Client{Timeout: 30 * time.Second},
		submitClient: &http.Client{},
		logger:       logger,
	}
}

func (r *httpRegistry) FetchSubmissions(ctx context.Context, userKey string) ([]requirements.Submission, error) {
	u := r.baseURL + "/v1/submissions?user=" + url.QueryEscape(userKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, errors.Wrap(err, "building fetch request")
	}
	res, err := r.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "fetching submissions")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("fetching submissions - status: %d", res.StatusCode)
	}
	var subs []requirements.Submission
	if err = json.NewDecoder(res.Body).Decode(&subs); err != nil {
		return nil, errors.Wrap(err, "decoding submissions")
	}
	return subs, nil
}

func (r *httpRegistry) Submit(ctx context.Context, userKey string, sreq requirements.SubmitRequest) error {
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)

	uploads := make(map[string]requirements.Upload, len(sreq.Uploads))
	for _, up := range sreq.Uploads {
		uploads[up.ItemID] = up
	}

	for i, it := range sreq.Items {
		if err := w.WriteField(fmt.Sprintf("items[%d][label]", i), it.Text); err != nil {
			return errors.Wrap(err, "writing label field")
		}
		if it.Note != "" {
			if err := w.WriteField(fmt.Sprintf("items[%d][note]", i), it.Note); err != nil {
				return errors.Wrap(err, "writing note field")
			}
		}
		up, ok := uploads[it.ID]
		if !ok {
			continue
		}
		if err := w.WriteField(fmt.Sprintf("items[%d][filename]", i), up.Filename); err != nil {
			return errors.Wrap(err, "writing filename field")
		}
		fw, err := w.CreateFormFile("files", up.Filename)
		if err != nil {
			return errors.Wrap(err, "creating file part")
		}
		if _, err = fw.Write(up.Content); err != nil {
			return errors.Wrap(err, "writing file part")
		}
	}

	itemsJSON, err := json.Marshal(sreq.Items)
	if err != nil {
		return errors.Wrap(err, "marshalling items")
	}
	if err = w.WriteField("itemsJson", string(itemsJSON)); err != nil {
		return errors.Wrap(err, "writing itemsJson field")
	}
	if len(sreq.RemovedPublicIDs) > 0 {
		removed, merr := json.Marshal(sreq.RemovedPublicIDs)
		if merr != nil {
			return errors.Wrap(merr, "marshalling removed ids")
		}
		if err = w.WriteField("removedPublicIds", string(removed)); err != nil {
			return errors.Wrap(err, "writing removedPublicIds field")
		}
	}
	if sreq.Resubmit {
		if err = w.WriteField("resubmit", "true"); err != nil {
			return errors.Wrap(err, "writing resubmit field")
		}
	}
	if err = w.Close(); err != nil {
		return errors.Wrap(err, "closing multipart writer")
	}

	var payload io.Reader = body
	if sreq.Progress != nil {
		payload = &progressReader{r: body, total: int64(body.Len()), report: sreq.Progress}
	}

	u := r.baseURL + "/v1/submissions?user=" + url.QueryEscape(userKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, payload)
	if err != nil {
		return errors.Wrap(err, "building submit request")
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	res, err := r.submitClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "submitting")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 1<<10))
		return errors.Errorf("submitting - status: %d - body: %s", res.StatusCode, b)
	}
	return nil
}

func (r *httpRegistry) DeleteFile(ctx context.Context, publicID string) (bool, error) {
	b, err := json.Marshal(map[string]string{"public_id": publicID})
	if err != nil {
		return false, errors.Wrap(err, "marshalling delete request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/files/delete", bytes.NewReader(b))
	if err != nil {
		return false, errors.Wrap(err, "building delete request")
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := r.client.Do(req)
	if err != nil {
		return false, errors.Wrap(err, "deleting file")
	}
	defer func() { _ = res.Body.Close() }()

	if res.StatusCode >= http.StatusBadRequest {
		return false, errors.Errorf("deleting file - status: %d", res.StatusCode)
	}
	var out struct {
		Destroyed bool `json:"destroyed"`
	}
	if err = json.NewDecoder(res.Body).Decode(&out); err != nil {
		// informational only
		return false, nil
	}
	return out.Destroyed, nil
}

// progressReader reports consumed bytes as a 0-100 percentage.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	report func(pct int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	if p.total > 0 {
		pct := int(p.read * 100 / p.total)
		if pct > 100 {
			pct = 100
		}
		p.report(pct)
	}
	return n, err
}
