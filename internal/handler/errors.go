package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-cbt/internal/middleware"
	"github.com/stemsi/exstem-cbt/internal/model"
	"github.com/stemsi/exstem-cbt/internal/response"
	"github.com/stemsi/exstem-cbt/internal/service"
)

// conflictCodes maps conflict sentinels to their API codes.
var conflictCodes = []struct {
	err  error
	code response.ErrCode
}{
	{service.ErrAlreadyFinalized, response.ErrAlreadySubmitted},
	{service.ErrSessionTimedOut, response.ErrSessionTimedOut},
	{service.ErrBackNavigation, response.ErrBackNavigation},
	{service.ErrInvalidTransition, response.ErrInvalidTransition},
	{service.ErrNoQuestions, response.ErrNoQuestions},
	{service.ErrExamNotEditable, response.ErrExamNotDraft},
	{service.ErrSessionNotFinalized, response.ErrSessionNotFinished},
	{service.ErrGradingNotAllowed, response.ErrGradingNotAllowed},
	{service.ErrTokenState, response.ErrAccessCodeState},
}

// apiError is the HTTP rendition of a service error.
type apiError struct {
	status  int
	code    response.ErrCode
	message string
	fields  map[string]string
}

// classify maps a service error to the matching HTTP status and code.
// ok is false for errors that are not part of the service contract.
func classify(err error) (apiError, bool) {
	var ve *service.ValidationError
	if errors.As(err, &ve) {
		field := ve.Field
		if field == "" {
			field = "detail"
		}
		return apiError{
			status:  http.StatusBadRequest,
			code:    response.ErrValidation,
			message: ve.Message,
			fields:  map[string]string{field: ve.Message},
		}, true
	}

	var ee *service.EligibilityError
	if errors.As(err, &ee) {
		return apiError{status: http.StatusForbidden, code: response.ErrNotEligible, message: ee.Decision.Message}, true
	}

	switch {
	case errors.Is(err, service.ErrInvalidCredentials):
		return newAPIError(http.StatusUnauthorized, response.ErrInvalidCredentials), true
	case errors.Is(err, service.ErrInvalidToken):
		return newAPIError(http.StatusUnauthorized, response.ErrTokenInvalid), true
	case errors.Is(err, service.ErrAccountInactive):
		return newAPIError(http.StatusForbidden, response.ErrAccountInactive), true
	case errors.Is(err, service.ErrTokenNotFound):
		return newAPIError(http.StatusBadRequest, response.ErrInvalidAccessCode), true
	case service.IsNotFound(err):
		return newAPIError(http.StatusNotFound, response.ErrNotFound), true
	}

	for _, cc := range conflictCodes {
		if errors.Is(err, cc.err) {
			return newAPIError(http.StatusConflict, cc.code), true
		}
	}
	if service.IsConflict(err) {
		return apiError{status: http.StatusConflict, code: response.ErrConflict, message: err.Error()}, true
	}

	return newAPIError(http.StatusInternalServerError, response.ErrInternal), false
}

func newAPIError(status int, code response.ErrCode) apiError {
	return apiError{status: status, code: code, message: response.GetMessage(code)}
}

// respondError writes the classified error. Unclassified errors are logged
// and reported as internal.
func respondError(c *gin.Context, log zerolog.Logger, err error) {
	e, ok := classify(err)
	if !ok {
		log.Error().Err(err).
			Str("method", c.Request.Method).
			Str("path", c.FullPath()).
			Msg("Unhandled service error")
	}

	switch {
	case e.fields != nil:
		response.FailWithFields(c, e.status, e.code, e.fields)
	default:
		response.FailWithMessage(c, e.status, e.code, e.message)
	}
}

// currentUser returns the caller or writes a 401 and returns nil.
func currentUser(c *gin.Context) *model.User {
	user := middleware.CurrentUser(c)
	if user == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
	}
	return user
}

// uuidParam parses a UUID path parameter or writes a 400 and returns false.
func uuidParam(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}
	return id, true
}
