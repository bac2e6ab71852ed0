package reconcile

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/Ashenafi-pixel/gamecrafter-payment-reconciler/platform"

	"go.uber.org/zap"
)

// CardFields is a replacement card as the player typed it.
type CardFields struct {
	Number string `json:"card_number"`
	Expiry string `json:"expiry_date"` // MM/YY
	CVV    string `json:"cvv"`
	Holder string `json:"card_holder"`
}

var (
	expiryPattern = regexp.MustCompile(`^\d{2}/\d{2}$`)
	cvvPattern    = regexp.MustCompile(`^\d{3,4}$`)
)

// Card expiry years accepted relative to the current two-digit year.
const maxExpiryYearsAhead = 20

// ValidateThreeDSCode trims the code and rejects it when nothing is left.
func ValidateThreeDSCode(code string) (string, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return "", &ValidationError{Field: "code", Reason: "3DS code is required"}
	}
	return code, nil
}

// ValidateCard checks a replacement card locally and returns the request body to send.
// now supplies the current year for the expiry check.
func ValidateCard(f CardFields, now time.Time) (platform.NewCardRequest, error) {
	holder := strings.TrimSpace(f.Holder)
	if len([]rune(holder)) < 2 {
		return platform.NewCardRequest{}, &ValidationError{Field: "card_holder", Reason: "name must be at least 2 characters"}
	}

	number := strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return r
	}, f.Number)
	if number == "" {
		return platform.NewCardRequest{}, &ValidationError{Field: "card_number", Reason: "card number is required"}
	}
	for _, r := range number {
		if r < '0' || r > '9' {
			return platform.NewCardRequest{}, &ValidationError{Field: "card_number", Reason: "card number must contain digits only"}
		}
	}

	expiry := strings.TrimSpace(f.Expiry)
	if err := validateExpiry(expiry, now); err != nil {
		return platform.NewCardRequest{}, err
	}

	cvv := strings.TrimSpace(f.CVV)
	if !cvvPattern.MatchString(cvv) {
		return platform.NewCardRequest{}, &ValidationError{Field: "cvv", Reason: "CVV must be 3 or 4 digits"}
	}

	return platform.NewCardRequest{
		CardNumber: number,
		ExpiryDate: expiry,
		CVV:        cvv,
		CardHolder: holder,
	}, nil
}

func validateExpiry(expiry string, now time.Time) error {
	if !expiryPattern.MatchString(expiry) {
		return &ValidationError{Field: "expiry_date", Reason: "expiry must be MM/YY"}
	}
	month, _ := strconv.Atoi(expiry[:2])
	year, _ := strconv.Atoi(expiry[3:])
	if month < 1 || month > 12 {
		return &ValidationError{Field: "expiry_date", Reason: "month must be between 01 and 12"}
	}
	current := now.Year() % 100
	if year < current || year > current+maxExpiryYearsAhead {
		return &ValidationError{Field: "expiry_date", Reason: "year is out of range"}
	}
	return nil
}

// SubmitThreeDSCode sends a 3DS code for the payment. A blank code fails locally without a
// network call. On success the session shows verifying until the next poll; the state itself
// only moves when the platform reports it.
func (s *Session) SubmitThreeDSCode(ctx context.Context, code string) error {
	const kind = "3ds"
	if s.isClosed() {
		return ErrSessionClosed
	}
	code, err := ValidateThreeDSCode(code)
	if err != nil {
		return s.invalid(kind, err)
	}

	ctx, cancel := s.submitContext(ctx)
	defer cancel()
	if err := s.authority.SubmitThreeDSCode(ctx, s.paymentID, code); err != nil {
		return s.failed(kind, submissionError("submit_3ds", err))
	}
	submissionsTotal.WithLabelValues(kind, submissionOutcome(nil)).Inc()
	s.logger.Info("3DS code accepted", zap.String("payment_id", s.paymentID))
	s.machine.markVerifying(false)
	return nil
}

// SubmitNewCard validates and sends a replacement card. The card draft is cleared once the
// platform accepts it.
func (s *Session) SubmitNewCard(ctx context.Context, card CardFields) error {
	const kind = "new_card"
	if s.isClosed() {
		return ErrSessionClosed
	}
	req, err := ValidateCard(card, s.clock.Now())
	if err != nil {
		return s.invalid(kind, err)
	}

	ctx, cancel := s.submitContext(ctx)
	defer cancel()
	if err := s.authority.SubmitNewCard(ctx, s.paymentID, req); err != nil {
		return s.failed(kind, submissionError("submit_new_card", err))
	}
	submissionsTotal.WithLabelValues(kind, submissionOutcome(nil)).Inc()
	s.logger.Info("replacement card accepted", zap.String("payment_id", s.paymentID))
	s.machine.markVerifying(true)
	return nil
}

// submitContext ties a submission to the session so Dispose aborts it.
func (s *Session) submitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(s.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

func (s *Session) invalid(kind string, err error) error {
	submissionsTotal.WithLabelValues(kind, submissionOutcome(err)).Inc()
	s.machine.reportError(err)
	return err
}

func (s *Session) failed(kind string, err error) error {
	submissionsTotal.WithLabelValues(kind, submissionOutcome(err)).Inc()
	s.logger.Warn("submission failed",
		zap.String("payment_id", s.paymentID),
		zap.String("kind", kind),
		zap.Error(err))
	s.machine.submissionFailed(err)
	return err
}
