package customer

import (
	"context"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"storefront/internal/domain"
)

// memoryRepo is a lightweight in-memory customer repository for tests.
type memoryRepo struct {
	byEmail map[string]domain.Customer
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{byEmail: make(map[string]domain.Customer)}
}

func (r *memoryRepo) Create(_ context.Context, c domain.Customer) (*domain.Customer, error) {
	if _, exists := r.byEmail[c.Email]; exists {
		return nil, domain.ErrAlreadyExists
	}
	clone := c
	clone.ID = "cust-" + c.Email
	r.byEmail[c.Email] = clone
	return &clone, nil
}

func (r *memoryRepo) GetByEmail(_ context.Context, email string) (*domain.Customer, error) {
	if c, ok := r.byEmail[strings.ToLower(strings.TrimSpace(email))]; ok {
		clone := c
		return &clone, nil
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) GetByID(_ context.Context, id string) (*domain.Customer, error) {
	for _, c := range r.byEmail {
		if c.ID == id {
			clone := c
			return &clone, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *memoryRepo) ReplaceAddresses(ctx context.Context, id string, addresses []domain.Address) (*domain.Customer, error) {
	c, err := r.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	c.Addresses = addresses
	r.byEmail[c.Email] = *c
	return c, nil
}

type stubTokens struct{ err error }

func (s stubTokens) IssueCustomer(id string) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "token-" + id, nil
}

func newTestService(repo customerRepo) *Service {
	svc := New(repo, stubTokens{}, nil)
	svc.cost = bcrypt.MinCost
	return svc
}

var home = domain.Address{FullName: "Ana Lee", Street: "Jl. Merdeka 1", City: "Bandung", PostalCode: "40111", Country: "ID"}

func TestSignupAndLogin_SucceedsWithTrimmedPassword(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	sess, err := svc.Signup(ctx, SignupInput{
		Email:     " User@Example.com ",
		Password:  " Abcdefg1 ",
		FirstName: "T",
		Addresses: []domain.Address{home},
	})
	if err != nil {
		t.Fatalf("signup returned error: %v", err)
	}
	if sess.Customer.Email != "user@example.com" || sess.Token != "token-cust-user@example.com" {
		t.Fatalf("unexpected session %+v", sess)
	}
	if sess.Customer.PasswordHash == "Abcdefg1" {
		t.Fatalf("password stored in clear")
	}

	login, err := svc.Login(ctx, "user@example.com", "Abcdefg1")
	if err != nil {
		t.Fatalf("login failed with trimmed password: %v", err)
	}
	if login.Customer.ID != sess.Customer.ID {
		t.Fatalf("login returned customer %s, want %s", login.Customer.ID, sess.Customer.ID)
	}
}

func TestSignup_Validation(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	cases := map[string]SignupInput{
		"bad email":      {Email: "nope", Password: "Abcdefg1"},
		"weak password":  {Email: "a@example.com", Password: "abc"},
		"broken address": {Email: "a@example.com", Password: "Abcdefg1", Addresses: []domain.Address{{FullName: "Ana"}}},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Signup(context.Background(), in); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
		})
	}
}

func TestSignup_DuplicateEmail(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	in := SignupInput{Email: "dup@example.com", Password: "Abcdefg1"}
	if _, err := svc.Signup(ctx, in); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Signup(ctx, in); !errors.Is(err, domain.ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}
}

func TestValidatePassword_FailsOnWeakValues(t *testing.T) {
	cases := []struct {
		name string
		pass string
	}{
		{"too short", "Abc1"},
		{"no upper", "abcdefg1"},
		{"no lower", "ABCDEFG1"},
		{"no digit", "Abcdefgh"},
	}
	for _, tc := range cases {
		if err := validatePassword(tc.pass, 8); err == nil {
			t.Fatalf("expected error for case %s", tc.name)
		}
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()

	if _, err := svc.Signup(ctx, SignupInput{Email: "user@example.com", Password: "Abcdefg1"}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	if _, err := svc.Login(ctx, "user@example.com", "wrongpass"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials, got %v", err)
	}
	if _, err := svc.Login(ctx, "missing@example.com", "Abcdefg1"); err != ErrInvalidCredentials {
		t.Fatalf("expected ErrInvalidCredentials for missing user, got %v", err)
	}
}

func TestLogin_TokenFailure(t *testing.T) {
	repo := newMemoryRepo()
	svc := newTestService(repo)
	ctx := context.Background()
	if _, err := svc.Signup(ctx, SignupInput{Email: "user@example.com", Password: "Abcdefg1"}); err != nil {
		t.Fatalf("signup: %v", err)
	}
	svc.tokens = stubTokens{err: errors.New("no secret")}
	if _, err := svc.Login(ctx, "user@example.com", "Abcdefg1"); err == nil || err == ErrInvalidCredentials {
		t.Fatalf("expected token error, got %v", err)
	}
}

func TestAddAddress(t *testing.T) {
	svc := newTestService(newMemoryRepo())
	ctx := context.Background()
	sess, err := svc.Signup(ctx, SignupInput{Email: "user@example.com", Password: "Abcdefg1", Addresses: []domain.Address{home}})
	if err != nil {
		t.Fatalf("signup: %v", err)
	}
	id := sess.Customer.ID

	office := home
	office.Street = "Jl. Braga 10"
	if _, err := svc.AddAddress(ctx, id, office, false); err != nil {
		t.Fatalf("add address: %v", err)
	}
	addrs, err := svc.Addresses(ctx, id)
	if err != nil {
		t.Fatalf("addresses: %v", err)
	}
	if len(addrs) != 2 || addrs[0].Street != home.Street {
		t.Fatalf("unexpected addresses %+v", addrs)
	}

	c, err := svc.AddAddress(ctx, id, office, true)
	if err != nil {
		t.Fatalf("add default address: %v", err)
	}
	if def, _ := c.DefaultAddress(); def.Street != "Jl. Braga 10" {
		t.Fatalf("expected new default, got %+v", def)
	}

	if _, err := svc.AddAddress(ctx, id, domain.Address{City: "Bandung"}, false); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if _, err := svc.Addresses(ctx, "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
