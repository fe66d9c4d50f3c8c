package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"strings"

	"order-consumer/internal/model"
	"order-consumer/internal/queue"
	"order-consumer/internal/repository"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

var ErrInvalidOrder = errors.New("invalid order message")

// ValidationError names the offending payload field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s %s", ErrInvalidOrder, e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidOrder
}

type Limits struct {
	MaxQuantity   int
	MinTotalPrice float64
	MaxTotalPrice float64
}

// OrderService turns queue messages into order rows. It satisfies consumer.Handler.
type OrderService interface {
	Handle(ctx context.Context, msg queue.Message) error
	Decode(body []byte) (*model.OrderMessage, error)
}

type orderService struct {
	repo     repository.OrderRepository
	validate *validator.Validate
	logger   zerolog.Logger
}

func NewOrderService(repo repository.OrderRepository, limits Limits, logger zerolog.Logger) OrderService {
	return &orderService{
		repo:     repo,
		validate: newOrderValidator(limits),
		logger:   logger.With().Str("service", "OrderService").Logger(),
	}
}

// Handle validates the payload before touching the database and inserts a
// single row. Any returned error leaves the message on the queue.
func (s *orderService) Handle(ctx context.Context, msg queue.Message) error {
	logger := s.logger.With().Str("msg_id", msg.ID).Logger()

	order, err := s.Decode(msg.Body)
	if err != nil {
		logger.Warn().Err(err).Msg("Rejected order message")
		return err
	}

	correlationID := order.CorrelationID
	if correlationID == "" {
		correlationID = msg.ID
	}
	logger = logger.With().Str("correlation_id", correlationID).Logger()
	span := trace.SpanFromContext(ctx)
	span.SetAttributes(attribute.String("correlation.id", correlationID))

	row := order.ToOrder()
	id, err := s.repo.Create(ctx, row)
	if err != nil {
		logger.Error().Err(err).Int64("user_id", row.UserID).Msg("Failed to store order")
		return err
	}

	span.SetAttributes(attribute.Int64("order.id", id))
	logger.Info().
		Int64("order_id", id).
		Int64("user_id", row.UserID).
		Int("quantity", row.Quantity).
		Msg("Order stored")
	return nil
}

// Decode parses and validates an order payload.
func (s *orderService) Decode(body []byte) (*model.OrderMessage, error) {
	var m model.OrderMessage
	if err := json.Unmarshal(body, &m); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			return nil, &ValidationError{
				Field:  typeErr.Field,
				Reason: fmt.Sprintf("must be %s, got %s", describeKind(typeErr.Type), typeErr.Value),
			}
		}
		return nil, fmt.Errorf("%w: malformed JSON: %v", ErrInvalidOrder, err)
	}
	if err := s.validate.Struct(&m); err != nil {
		return nil, toValidationError(err)
	}
	return &m, nil
}

func newOrderValidator(limits Limits) *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	// Range checks depend on configuration, so they run at struct level after the
	// presence checks on the fields.
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		m := sl.Current().Interface().(model.OrderMessage)
		if m.Quantity != nil && *m.Quantity > limits.MaxQuantity {
			sl.ReportError(*m.Quantity, "quantity", "Quantity", "max", strconv.Itoa(limits.MaxQuantity))
		}
		if m.TotalPrice != nil {
			p := *m.TotalPrice
			switch {
			case math.IsNaN(p) || math.IsInf(p, 0):
				sl.ReportError(p, "totalPrice", "TotalPrice", "finite", "")
			case p < limits.MinTotalPrice:
				sl.ReportError(p, "totalPrice", "TotalPrice", "gte", strconv.FormatFloat(limits.MinTotalPrice, 'f', -1, 64))
			case p > limits.MaxTotalPrice:
				sl.ReportError(p, "totalPrice", "TotalPrice", "lte", strconv.FormatFloat(limits.MaxTotalPrice, 'f', -1, 64))
			}
		}
	}, model.OrderMessage{})
	return v
}

// fieldRank is the order in which invalid fields are reported.
var fieldRank = map[string]int{
	"userId":      0,
	"quantity":    1,
	"totalPrice":  2,
	"productName": 3,
}

// toValidationError reports missing fields ahead of range violations, and
// otherwise the first invalid field in fieldRank order.
func toValidationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("%w: %v", ErrInvalidOrder, err)
	}
	fe := verrs[0]
	for _, e := range verrs[1:] {
		if reportsBefore(e, fe) {
			fe = e
		}
	}
	return &ValidationError{Field: fe.Field(), Reason: describeTag(fe)}
}

func reportsBefore(a, b validator.FieldError) bool {
	aMissing, bMissing := a.Tag() == "required", b.Tag() == "required"
	if aMissing != bMissing {
		return aMissing
	}
	return rank(a.Field()) < rank(b.Field())
}

func rank(field string) int {
	if r, ok := fieldRank[field]; ok {
		return r
	}
	return len(fieldRank)
}

func describeTag(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "gt":
		return "must be greater than " + fe.Param()
	case "min":
		return "must not be empty"
	case "max":
		return "must not exceed " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "finite":
		return "must be a finite number"
	}
	return "failed " + fe.Tag() + " validation"
}

func describeKind(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.String:
		return "a string"
	}
	return t.String()
}
