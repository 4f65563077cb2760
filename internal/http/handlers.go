package http

import (
	"errors"
	"net/http"

	"expenses/internal/core"
	"expenses/internal/docstore"
	"expenses/internal/log"
	"expenses/internal/records"
	"expenses/internal/services"
)

func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	n, invalid := ParseNewExpense(NewRequestBodyParser(r))
	if invalid != nil {
		invalid.Write(w)
		return
	}

	key := r.Header.Get(IdempotencyKeyHeader)
	res, err := s.api.CreateIdempotent(ctx, key, n)
	if err != nil {
		if res.Expense.ID != "" {
			// The record is durable but a retry with this key would create
			// another one, so the request is reported as failed.
			log.FromContext(ctx).WithComponent(log.ComponentIdempotency).ErrorContext(ctx, "Expense saved but idempotency key not registered",
				log.FieldExpenseID, res.Expense.ID,
				log.FieldIdempotencyKey, key,
				log.FieldError, err,
			)
		}
		s.writeServiceError(w, r, err, log.OpCreate)
		return
	}

	if res.Replayed {
		NewJSONResponse().
			Message("Expense already created (idempotent)").
			Field("expense", res.Expense).
			Write(w)
		return
	}
	NewJSONResponse().
		Status(http.StatusCreated).
		Message("Expense created successfully").
		Field("expense", res.Expense).
		Write(w)
}

func (s *Server) handleListExpenses(w http.ResponseWriter, r *http.Request) {
	list, err := s.api.ListRecords(r.Context(), ParseListOptions(r.URL.Query()))
	if err != nil {
		s.writeServiceError(w, r, err, log.OpList)
		return
	}
	NewJSONResponse().Body(list).Write(w)
}

func (s *Server) handleGetExpense(w http.ResponseWriter, r *http.Request) {
	id := sanitizeInput(r.PathValue("id"))
	view, err := s.api.GetRecord(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err, log.OpRead)
		return
	}
	NewJSONResponse().Body(view).Write(w)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewJSONResponse().
		Field("status", "ok").
		Field("timestamp", core.FormatTimestamp(s.now())).
		Write(w)
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			s.logger.WarnContext(r.Context(), "Readiness check failed", log.FieldError, err)
			NewJSONResponse().
				Status(http.StatusServiceUnavailable).
				Field("status", "unavailable").
				Write(w)
			return
		}
	}
	NewJSONResponse().Field("status", "ready").Write(w)
}

func handleNotFound(w http.ResponseWriter, r *http.Request) {
	NotFoundError("Not found").Write(w)
}

// writeServiceError maps service failures to status codes. Only the 500
// path is logged at error level; the cause never reaches the client.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error, op string) {
	ctx := r.Context()
	switch {
	case errors.Is(err, services.ErrDanglingKey):
		log.FromContext(ctx).WithComponent(log.ComponentIdempotency).WarnContext(ctx, "Idempotency key references a missing expense",
			log.FieldIdempotencyKey, r.Header.Get(IdempotencyKeyHeader),
			log.FieldErrorType, log.ErrorTypeConflict,
		)
		ConflictError("Idempotency key refers to an expense that no longer exists").Write(w)
	case errors.Is(err, records.ErrNotFound):
		NotFoundError("Expense not found").Write(w)
	default:
		errorType := log.ErrorTypeInternal
		if errors.Is(err, docstore.ErrPersistence) {
			errorType = log.ErrorTypePersistence
		}
		fields := log.NewFields().WithErrorType(errorType)
		log.NewStructuredLogger(log.FromContext(ctx)).LogError(ctx, "Request failed", err, log.ComponentHTTP, op, fields)
		InternalServerError().Write(w)
	}
}
