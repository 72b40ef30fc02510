package usecase

import (
	"errors"
	"fmt"
	"net/http"

	"ordercore/internal/domain/model"
	repo "ordercore/internal/repository"
)

type HTTPError struct {
	Status  int
	Message string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("%d: %s", e.Status, e.Message)
}

func NewHTTPError(status int, message string) error {
	return &HTTPError{
		Status:  status,
		Message: message,
	}
}

func AsHTTPError(err error) (*HTTPError, bool) {
	var he *HTTPError
	ok := errors.As(err, &he)
	return he, ok
}

var (
	ErrInsufficientBalance = &HTTPError{Status: http.StatusBadRequest, Message: "insufficient balance"}
	// 同じ注文への2回目の返金
	ErrDuplicateRefund = &HTTPError{Status: http.StatusConflict, Message: "refund already issued"}
	ErrGatewayFailed   = &HTTPError{Status: http.StatusBadGateway, Message: "payment gateway error"}
	ErrCarrierFailed   = &HTTPError{Status: http.StatusBadGateway, Message: "shipping carrier error"}
	ErrOrderConflict   = &HTTPError{Status: http.StatusConflict, Message: "order was modified, retry"}
)

func errDB() error {
	return NewHTTPError(http.StatusInternalServerError, "db error")
}

func errNotFound() error {
	return NewHTTPError(http.StatusNotFound, "not found")
}

// 遷移表にない遷移は400（現在と要求の状態を含める）
func transitionError(err error) error {
	var te *model.TransitionError
	if errors.As(err, &te) {
		return NewHTTPError(http.StatusBadRequest, te.Error())
	}
	return err
}

// repositoryのエラーを注文用のHTTPErrorへ
func orderRepoError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repo.ErrNotFound):
		return errNotFound()
	case errors.Is(err, repo.ErrConflict):
		return ErrOrderConflict
	}
	if _, ok := AsHTTPError(err); ok {
		return err
	}
	return errDB()
}
