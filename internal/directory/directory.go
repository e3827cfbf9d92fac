// Package directory owns user identities: employee id numbering,
// registration, password authentication and account administration.
package directory

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"qrlogin/attendance-service/internal/credential"
	"qrlogin/attendance-service/internal/models"
	"qrlogin/attendance-service/internal/store"

	"github.com/go-playground/validator/v10"
)

const (
	DefaultPrefix     = "ALLY"
	MinPasswordLength = 6
)

type Directory struct {
	store    store.UserStore
	hasher   *credential.Hasher
	prefix   string
	validate *validator.Validate
	logger   *slog.Logger
}

type Options struct {
	Prefix string
	Logger *slog.Logger
}

func New(userStore store.UserStore, hasher *credential.Hasher, options Options) *Directory {
	d := &Directory{
		store:    userStore,
		hasher:   hasher,
		prefix:   strings.TrimSpace(options.Prefix),
		validate: validator.New(),
		logger:   options.Logger,
	}
	if d.prefix == "" {
		d.prefix = DefaultPrefix
	}
	if d.hasher == nil {
		d.hasher = credential.NewHasher(credential.MinIterations)
	}
	if d.logger == nil {
		d.logger = slog.Default()
	}
	return d
}

func (d *Directory) Prefix() string {
	return d.prefix
}

// NextEmployeeID previews the id the next registration under prefix would
// receive. An empty prefix uses the directory default.
func (d *Directory) NextEmployeeID(ctx context.Context, prefix string) (string, error) {
	prefix = d.prefixOr(prefix)
	id, fallback, err := d.store.PeekEmployeeID(ctx, prefix)
	if err != nil {
		return "", err
	}
	if fallback {
		d.logger.Warn("employee id suffix not numeric, numbering by count", "prefix", prefix, "employee_id", id)
	}
	return id, nil
}

type RegisterInput struct {
	Prefix   string `validate:"omitempty,alphanum,max=16"`
	Name     string `validate:"required,max=100"`
	Email    string `validate:"required,email"`
	Phone    string `validate:"omitempty,len=10,numeric"`
	Password string `validate:"required"`
}

func (d *Directory) Register(ctx context.Context, input RegisterInput) (models.User, error) {
	input.Prefix = strings.TrimSpace(input.Prefix)
	input.Name = strings.TrimSpace(input.Name)
	input.Email = strings.TrimSpace(input.Email)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := d.validate.Struct(input); err != nil {
		return models.User{}, fmt.Errorf("%w: %s", store.ErrInvalidInput, describe(err))
	}

	hash, salt, err := d.hasher.Hash(input.Password)
	if err != nil {
		return models.User{}, err
	}
	user, fallback, err := d.store.CreateUser(ctx, store.CreateUserInput{
		Prefix:       d.prefixOr(input.Prefix),
		Name:         input.Name,
		Email:        input.Email,
		Phone:        input.Phone,
		PasswordHash: hash,
		Salt:         salt,
	})
	if err != nil {
		return models.User{}, err
	}
	if fallback {
		d.logger.Warn("employee id suffix not numeric, numbering by count", "prefix", d.prefixOr(input.Prefix), "employee_id", user.EmployeeID)
	}
	d.logger.Info("user registered", "employee_id", user.EmployeeID, "user_id", user.ID)
	return user, nil
}

// Resolve looks up a user by employee id.
func (d *Directory) Resolve(ctx context.Context, employeeID string) (models.User, error) {
	employeeID = strings.TrimSpace(employeeID)
	if employeeID == "" {
		return models.User{}, store.ErrInvalidIdentifier
	}
	return d.store.GetUserByEmployeeID(ctx, employeeID)
}

// Authenticate verifies password for employeeID. Unknown ids and wrong
// passwords both fail with ErrInvalidCredentials.
func (d *Directory) Authenticate(ctx context.Context, employeeID, password string) (models.User, error) {
	user, err := d.Resolve(ctx, employeeID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			d.hasher.Discard(password)
			return models.User{}, store.ErrInvalidCredentials
		}
		return models.User{}, err
	}
	ok, err := d.hasher.Verify(password, user.PasswordHash, user.Salt)
	if err != nil {
		d.logger.Error("stored credential unreadable", "employee_id", user.EmployeeID, "error", err)
		return models.User{}, err
	}
	if !ok {
		return models.User{}, store.ErrInvalidCredentials
	}
	if !user.Active {
		return models.User{}, store.ErrInactiveUser
	}
	return user, nil
}

// ResetPassword stores a new hash with a fresh salt.
func (d *Directory) ResetPassword(ctx context.Context, employeeID, newPassword string) error {
	if len(strings.TrimSpace(newPassword)) < MinPasswordLength {
		return fmt.Errorf("%w: password must be at least %d characters", store.ErrInvalidInput, MinPasswordLength)
	}
	user, err := d.Resolve(ctx, employeeID)
	if err != nil {
		return err
	}
	hash, salt, err := d.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := d.store.UpdatePassword(ctx, user.ID, hash, salt); err != nil {
		return err
	}
	d.logger.Info("password reset", "employee_id", user.EmployeeID)
	return nil
}

func (d *Directory) SetActive(ctx context.Context, employeeID string, active bool) (models.User, error) {
	user, err := d.Resolve(ctx, employeeID)
	if err != nil {
		return models.User{}, err
	}
	if err := d.store.SetActive(ctx, user.ID, active); err != nil {
		return models.User{}, err
	}
	user.Active = active
	d.logger.Info("user activation changed", "employee_id", user.EmployeeID, "active", active)
	return user, nil
}

// Delete removes the user along with their attendance and history.
func (d *Directory) Delete(ctx context.Context, employeeID string) error {
	user, err := d.Resolve(ctx, employeeID)
	if err != nil {
		return err
	}
	if err := d.store.DeleteUser(ctx, user.ID); err != nil {
		return err
	}
	d.logger.Info("user deleted", "employee_id", user.EmployeeID, "user_id", user.ID)
	return nil
}

func (d *Directory) List(ctx context.Context) ([]models.User, error) {
	return d.store.ListUsers(ctx)
}

func (d *Directory) prefixOr(prefix string) string {
	if prefix = strings.TrimSpace(prefix); prefix != "" {
		return prefix
	}
	return d.prefix
}

func describe(err error) string {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(fieldErrs))
	for _, fieldErr := range fieldErrs {
		field := strings.ToLower(fieldErr.Field())
		switch fieldErr.Tag() {
		case "required":
			parts = append(parts, field+" is required")
		case "email":
			parts = append(parts, "email is not a valid address")
		case "len", "numeric":
			parts = append(parts, field+" must be exactly 10 digits")
		default:
			parts = append(parts, field+" is invalid")
		}
	}
	return strings.Join(parts, "; ")
}
