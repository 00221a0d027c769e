package echoapi_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/mail"
	"testing"
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/kymaka/elimu/apps/api/echo"
	"github.com/kymaka/elimu/core"
	"github.com/kymaka/elimu/core/requirements"
	emailsvc "github.com/kymaka/elimu/services/email"
	logsvc "github.com/kymaka/elimu/services/logger"
	registrysvc "github.com/kymaka/elimu/services/registry"
	"github.com/kymaka/elimu/storage/kv"
	inmemkv "github.com/kymaka/elimu/storage/kv/inmem"
)

func testConf() *core.Config {
	return &core.Config{
		Env:              "TEST",
		Debug:            false,
		TestMode:         true,
		AppName:          "Elimu",
		SecretKey:        "test-secret",
		DefaultFromEmail: mail.Address{Name: "Elimu", Address: "noreply@localhost"},
		Requirements: core.RequirementsConfig{
			LetterMaxBytes:  5 << 20,
			DefaultMaxBytes: 25 << 20,
			FilenameMaxLen:  100,
		},
	}
}

type apiFixture struct {
	srv      echoapi.Server
	conf     *core.Config
	store    kv.Store
	registry *registrysvc.DummyRegistry
}

func setup(t *testing.T) *apiFixture {
	t.Helper()

	conf := testConf()
	validate := validator.New()
	enLocale := en.New()
	translator, _ := ut.New(enLocale, enLocale).GetTranslator("en")
	core.InitValidators(validate, translator)

	store := inmemkv.NewStore()
	registry := registrysvc.NewDummyRegistry()
	logger := logsvc.NewStdLogger(log.New(io.Discard, "", 0))
	mgr := requirements.NewManager(store, registry, emailsvc.NewConsoleServiceMock(conf), logger, conf)

	srv := echoapi.NewServer(
		&echoapi.Options{
			DisableReqLogs: true,
			Conf:           conf,
			Logger:         logger,
			Manager:        mgr,
			Validate:       validate,
			Translator:     translator,
		},
	)
	return &apiFixture{srv: srv, conf: conf, store: store, registry: registry}
}

func (f *apiFixture) token(t *testing.T, student bool) string {
	t.Helper()
	claims := &echoapi.Claims{
		StandardClaims: jwt.StandardClaims{
			Subject:   "u-1",
			ExpiresAt: time.Now().Add(time.Hour).Unix(),
		},
		Email:     "jane@school.test",
		IsStudent: student,
	}
	token, err := echoapi.GenerateToken(claims, f.conf)
	require.NoError(t, err)
	return token
}

func (f *apiFixture) do(t *testing.T, method, path, token, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	f.srv.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) state(t *testing.T, rec *httptest.ResponseRecorder) requirements.State {
	t.Helper()
	var state requirements.State
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &state))
	return state
}

func multipartFile(t *testing.T, field, filename string, content []byte) (io.Reader, string) {
	t.Helper()
	body := new(bytes.Buffer)
	w := multipart.NewWriter(body)
	fw, err := w.CreateFormFile(field, filename)
	require.NoError(t, err)
	_, err = fw.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return body, w.FormDataContentType()
}

func Test_requirementsApi_auth(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/v1/requirements", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = f.do(t, http.MethodGet, "/v1/requirements", f.token(t, false /* student */), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func Test_requirementsApi_state(t *testing.T) {
	f := setup(t)

	rec := f.do(t, http.MethodGet, "/v1/requirements", f.token(t, true), "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	state := f.state(t, rec)
	assert.Equal(t, requirements.ModeDraft, state.Mode)
	assert.Len(t, state.Items, 6)
	assert.Zero(t, state.StagedRemovals)
}

func Test_requirementsApi_attachDetach(t *testing.T) {
	f := setup(t)
	token := f.token(t, true)

	body, ctype := multipartFile(t, "file", "transcript.pdf", []byte("pdf bytes"))
	rec := f.do(t, http.MethodPost, "/v1/requirements/items/academic-transcript/file", token, ctype, body)
	require.Equal(t, http.StatusOK, rec.Code)

	state := f.state(t, rec)
	require.NotNil(t, state.Items[1].File)
	assert.Equal(t, "transcript.pdf", state.Items[1].File.Name)
	assert.True(t, state.UnsavedChanges)

	// missing file part
	rec = f.do(t, http.MethodPost, "/v1/requirements/items/academic-transcript/file", token, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// unknown item
	body, ctype = multipartFile(t, "file", "x.pdf", []byte("x"))
	rec = f.do(t, http.MethodPost, "/v1/requirements/items/nope/file", token, ctype, body)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.JSONEq(t, `{"error": "not found"}`, rec.Body.String())

	// local files detach immediately
	rec = f.do(t, http.MethodDelete, "/v1/requirements/items/academic-transcript/file", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state = f.state(t, rec)
	assert.Nil(t, state.Items[1].File)
}

func Test_requirementsApi_stagedRemovalUndo(t *testing.T) {
	f := setup(t)
	token := f.token(t, true)

	// a prior session left a snapshot holding a remote file
	items := requirements.DefaultTemplate()
	items[0].File = &requirements.File{
		ID:   "reqs/letter",
		Name: "letter.pdf",
		URL:  "https://cdn.test/upload/v1/reqs/letter.pdf",
	}
	b, err := json.Marshal(items)
	require.NoError(t, err)
	require.NoError(t, f.store.Set(context.Background(), "requirements_items_jane@school.test", string(b)))

	rec := f.do(t, http.MethodDelete, "/v1/requirements/items/letter-of-application/file", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := f.state(t, rec)
	require.NotNil(t, state.Items[0].File, "remote removal is staged, not applied")
	assert.Equal(t, 1, state.StagedRemovals)

	rec = f.do(t, http.MethodPost, "/v1/requirements/items/letter-of-application/undo", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state = f.state(t, rec)
	assert.Zero(t, state.StagedRemovals)
	assert.NotNil(t, state.Items[0].File)
}

func Test_requirementsApi_submit(t *testing.T) {
	f := setup(t)
	token := f.token(t, true)

	// incomplete checklist: one error per missing item, no network call
	rec := f.do(t, http.MethodPost, "/v1/requirements/submit", token, "", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	var fldErrs map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &fldErrs))
	assert.Len(t, fldErrs, 6)
	f.registry.Lock()
	assert.Empty(t, f.registry.SubmitCalls)
	f.registry.Unlock()

	for _, it := range requirements.DefaultTemplate() {
		body, ctype := multipartFile(t, "file", it.ID+".pdf", []byte("content"))
		rec = f.do(t, http.MethodPost, "/v1/requirements/items/"+it.ID+"/file", token, ctype, body)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec = f.do(t, http.MethodPost, "/v1/requirements/submit", token, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	state := f.state(t, rec)
	assert.Equal(t, requirements.ModeSubmitted, state.Mode)
	assert.NotEmpty(t, state.Success)

	// the form is now locked
	rec = f.do(t, http.MethodDelete, "/v1/requirements/items/academic-transcript/file", token, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
	rec = f.do(t, http.MethodPost, "/v1/requirements/reset", token, "", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func Test_requirementsApi_import(t *testing.T) {
	f := setup(t)
	token := f.token(t, true)

	body := bytes.NewReader([]byte(`{"text":"Letter of Application\nProof of Payment"}`))
	rec := f.do(t, http.MethodPost, "/v1/requirements/import", token, "application/json", body)
	require.Equal(t, http.StatusOK, rec.Code)
	state := f.state(t, rec)
	require.Len(t, state.Items, 2)
	assert.Equal(t, "Proof of Payment", state.Items[1].Text)

	body = bytes.NewReader([]byte(`{"text":""}`))
	rec = f.do(t, http.MethodPost, "/v1/requirements/import", token, "application/json", body)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
