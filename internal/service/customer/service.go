// Package customer handles customer signup and login and keeps each
// customer's address book.
package customer

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
	"storefront/internal/logging"
)

const maxAddresses = 10

var (
	// ErrInvalidCredentials is returned when email/password do not match.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

type customerRepo interface {
	Create(ctx context.Context, c domain.Customer) (*domain.Customer, error)
	GetByEmail(ctx context.Context, email string) (*domain.Customer, error)
	GetByID(ctx context.Context, id string) (*domain.Customer, error)
	ReplaceAddresses(ctx context.Context, id string, addresses []domain.Address) (*domain.Customer, error)
}

type tokenIssuer interface {
	IssueCustomer(customerID string) (string, error)
}

type Service struct {
	repo        customerRepo
	tokens      tokenIssuer
	logger      *zap.Logger
	passwordMin int
	cost        int
}

func New(repo customerRepo, tokens tokenIssuer, logger *zap.Logger) *Service {
	return &Service{
		repo:        repo,
		tokens:      tokens,
		logger:      logging.OrNop(logger).Named("customer"),
		passwordMin: 8,
		cost:        bcrypt.DefaultCost,
	}
}

// SignupInput captures fields expected by the signup endpoint.
type SignupInput struct {
	Email     string           `json:"email"`
	Password  string           `json:"password"`
	FirstName string           `json:"firstName"`
	LastName  string           `json:"lastName"`
	Phone     string           `json:"phone"`
	Addresses []domain.Address `json:"addresses"`
}

// Session is a logged-in customer and the bearer token that identifies them.
type Session struct {
	Customer *domain.Customer `json:"customer"`
	Token    string           `json:"token"`
}

// Signup registers a new customer and logs them in.
func (s *Service) Signup(ctx context.Context, in SignupInput) (*Session, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: valid email required", domain.ErrValidation)
	}
	password := strings.TrimSpace(in.Password)
	if err := validatePassword(password, s.passwordMin); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := validateAddresses(in.Addresses); err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		return nil, err
	}

	c, err := s.repo.Create(ctx, domain.Customer{
		Email:        email,
		PasswordHash: string(hashed),
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		Phone:        strings.TrimSpace(in.Phone),
		Addresses:    in.Addresses,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Info("customer signed up", zap.String("customer_id", c.ID))
	return s.session(c)
}

// Login validates credentials and returns a bearer token for the customer.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	c, err := s.repo.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if err := bcrypt.CompareHashAndPassword([]byte(c.PasswordHash), []byte(strings.TrimSpace(password))); err != nil {
		s.logger.Info("login rejected", zap.String("customer_id", c.ID))
		return nil, ErrInvalidCredentials
	}
	return s.session(c)
}

func (s *Service) Get(ctx context.Context, id string) (*domain.Customer, error) {
	return s.repo.GetByID(ctx, id)
}

// Addresses returns the customer's saved addresses, default first.
func (s *Service) Addresses(ctx context.Context, customerID string) ([]domain.Address, error) {
	c, err := s.repo.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	return c.Addresses, nil
}

// AddAddress appends an address, or makes it the default when asDefault is set.
func (s *Service) AddAddress(ctx context.Context, customerID string, a domain.Address, asDefault bool) (*domain.Customer, error) {
	if problems := a.Problems("address"); len(problems) > 0 {
		return nil, fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	c, err := s.repo.GetByID(ctx, customerID)
	if err != nil {
		return nil, err
	}
	if len(c.Addresses) >= maxAddresses {
		return nil, fmt.Errorf("%w: at most %d addresses", domain.ErrValidation, maxAddresses)
	}
	addresses := append([]domain.Address{}, c.Addresses...)
	if asDefault {
		addresses = append([]domain.Address{a}, addresses...)
	} else {
		addresses = append(addresses, a)
	}
	return s.repo.ReplaceAddresses(ctx, customerID, addresses)
}

func (s *Service) session(c *domain.Customer) (*Session, error) {
	token, err := s.tokens.IssueCustomer(c.ID)
	if err != nil {
		return nil, fmt.Errorf("issue customer token: %w", err)
	}
	return &Session{Customer: c, Token: token}, nil
}

func validateAddresses(addresses []domain.Address) error {
	if len(addresses) > maxAddresses {
		return fmt.Errorf("%w: at most %d addresses", domain.ErrValidation, maxAddresses)
	}
	var problems []string
	for i, a := range addresses {
		problems = append(problems, a.Problems(fmt.Sprintf("addresses[%d]", i))...)
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", domain.ErrValidation, strings.Join(problems, "; "))
	}
	return nil
}

func validatePassword(p string, min int) error {
	if len(p) < min {
		return fmt.Errorf("password must be at least %d characters", min)
	}
	hasUpper := false
	hasLower := false
	hasDigit := false
	for _, r := range p {
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		}
	}
	if !hasUpper || !hasLower || !hasDigit {
		return errors.New("password must contain at least 1 uppercase letter, 1 lowercase letter, and 1 number")
	}
	return nil
}
