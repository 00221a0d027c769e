package echoapi

import (
	"net/http"

	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/kymaka/elimu/core"
	"github.com/kymaka/elimu/core/requirements"
)

type requirementsApi struct {
	mgr        *requirements.Manager
	validate   *validator.Validate
	translator ut.Translator
}

func registerRequirementsAPI(
	g *echo.Group,
	jwt echo.MiddlewareFunc,
	mgr *requirements.Manager,
	validate *validator.Validate,
	translator ut.Translator,
) {
	api := requirementsApi{
		mgr:        mgr,
		validate:   validate,
		translator: translator,
	}

	rg := g.Group("/requirements", jwt, studentMiddleware())

	rg.GET("", api.state)
	rg.POST("/submit", api.submit)
	rg.POST("/reset", api.reset)
	rg.POST("/import", api.importText)

	ig := rg.Group("/items/:id")
	ig.POST("/file", api.attach)
	ig.DELETE("/file", api.detach)
	ig.POST("/undo", api.undo)
}

func (api *requirementsApi) session(ctx echo.Context) (*requirements.Session, error) {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "getting context claims")
	}
	sess, err := api.mgr.Session(ctx.Request().Context(), claims.Subject, claims.Email)
	if err != nil {
		return nil, errors.Wrap(err, "getting requirements session")
	}
	return sess, nil
}

// Handlers

func (api *requirementsApi) state(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.State())
}

func (api *requirementsApi) attach(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}

	fh, err := ctx.FormFile("file")
	if err != nil {
		return core.NewValidationError(errors.New("a file is required"),
			core.FieldError{Field: "file", Error: "a file is required"})
	}
	src, err := fh.Open()
	if err != nil {
		return errors.Wrap(err, "opening upload")
	}
	defer func() { _ = src.Close() }()

	contentType := fh.Header.Get("Content-Type")
	if err = sess.Attach(ctx.Request().Context(), ctx.Param("id"), fh.Filename, contentType, fh.Size, src); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.State())
}

func (api *requirementsApi) detach(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	if err = sess.Detach(ctx.Request().Context(), ctx.Param("id")); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.State())
}

func (api *requirementsApi) undo(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	sess.Undo(ctx.Param("id"))
	return ctx.JSON(http.StatusOK, sess.State())
}

func (api *requirementsApi) submit(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	if err = sess.Submit(ctx.Request().Context()); err != nil {
		switch errors.Cause(err).(type) {
		case *core.ValidationError, *core.ConflictError:
			return err
		}
		return echo.NewHTTPError(http.StatusBadGateway, "submission failed, please try again")
	}
	return ctx.JSON(http.StatusOK, sess.State())
}

func (api *requirementsApi) reset(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}
	if err = sess.Reset(ctx.Request().Context()); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.State())
}

// ImportRequest seeds the checklist from newline-delimited labels.
type ImportRequest struct {
	Text string `json:"text" validate:"required,labellines"`
}

func (r *ImportRequest) Validate(validate *validator.Validate) error {
	r.Text = core.CleanString(r.Text)
	return validate.Struct(r)
}

func (api *requirementsApi) importText(ctx echo.Context) error {
	sess, err := api.session(ctx)
	if err != nil {
		return err
	}

	var data ImportRequest
	if err = ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ImportRequest")
	}
	if err = data.Validate(api.validate); err != nil {
		return err
	}
	if err = sess.ImportText(ctx.Request().Context(), data.Text); err != nil {
		return err
	}
	return ctx.JSON(http.StatusOK, sess.State())
}
