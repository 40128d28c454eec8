package handler

import (
	"errors"
	"net/http"

	"vscan/internal/utils"
)

// mapErrorToHTTPStatus 将业务错误映射到 HTTP 状态码
func mapErrorToHTTPStatus(err error) (int, string) {
	switch {
	case errors.Is(err, utils.ErrEmptyURL):
		return http.StatusBadRequest, utils.StatusMessage(err)
	case errors.Is(err, utils.ErrUnrecognizedID):
		return http.StatusUnprocessableEntity, utils.StatusMessage(err)
	case errors.Is(err, utils.ErrSessionNotFound), errors.Is(err, utils.ErrSampleNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, utils.ErrAnalysisCancelled):
		return http.StatusConflict, utils.StatusMessage(err)
	case errors.Is(err, utils.ErrWalletRejected):
		return http.StatusForbidden, err.Error()
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
