package httpapi

import (
	"context"
	"crypto/subtle"
	"errors"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"carparts/backend/internal/domain"
	"carparts/backend/internal/service"
	"carparts/backend/internal/store"
	"carparts/backend/internal/xid"
)

var (
	ErrInvalidCredentials  = errors.New("Invalid email or password")
	ErrPendingVerification = errors.New("Your account is pending verification. Please wait for admin approval.")
	ErrInvalidSecretKey    = errors.New("Invalid secret key")
	ErrUserExists          = errors.New("User already exists")
	ErrInvalidToken        = errors.New("invalid or expired token")
)

const registeredMessage = "Registration successful. Your account is pending verification by an admin."

type AuthManager struct {
	secret         []byte
	tokenTTL       time.Duration
	adminSecretKey string
	users          UserStore
}

type UserStore interface {
	CreateUser(ctx context.Context, user domain.User) error
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
	GetUserByEmail(ctx context.Context, email string) (*domain.User, error)
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
}

type carpartsClaims struct {
	jwtlib.RegisteredClaims
	Role string `json:"role"`
}

func NewAuthManager(secret string, tokenTTL time.Duration, adminSecretKey string, users UserStore) *AuthManager {
	if secret == "" {
		secret = "dev-change-me"
	}
	if tokenTTL <= 0 {
		tokenTTL = 30 * 24 * time.Hour
	}
	return &AuthManager{
		secret:         []byte(secret),
		tokenTTL:       tokenTTL,
		adminSecretKey: strings.TrimSpace(adminSecretKey),
		users:          users,
	}
}

func requestError(message string) error {
	return &service.Error{Kind: store.ErrInvalid, Message: message}
}

func (a *AuthManager) Register(ctx context.Context, req domain.RegisterRequest) (domain.AuthResponse, error) {
	username, email := strings.TrimSpace(req.Username), normalizeEmail(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return domain.AuthResponse{}, requestError("All fields are required")
	}
	user, err := a.createUser(ctx, username, email, req.Password, domain.RoleUser, domain.UserPending)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	resp, err := a.issue(user)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	resp.Message = registeredMessage
	return resp, nil
}

// CreateAdmin creates a verified admin when the caller knows the admin secret
// key. An unset key disables the endpoint.
func (a *AuthManager) CreateAdmin(ctx context.Context, req domain.AdminCreateRequest) (domain.AuthResponse, error) {
	if a.adminSecretKey == "" || subtle.ConstantTimeCompare([]byte(req.SecretKey), []byte(a.adminSecretKey)) != 1 {
		return domain.AuthResponse{}, ErrInvalidSecretKey
	}
	username, email := strings.TrimSpace(req.Username), normalizeEmail(req.Email)
	if username == "" || email == "" || req.Password == "" {
		return domain.AuthResponse{}, requestError("All fields are required")
	}
	user, err := a.createUser(ctx, username, email, req.Password, domain.RoleAdmin, domain.UserVerified)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	resp, err := a.issue(user)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	resp.Message = "Admin user created successfully"
	return resp, nil
}

// BootstrapAdmin creates a verified admin without the secret key. It backs the
// createadmin command and is not reachable over HTTP.
func (a *AuthManager) BootstrapAdmin(ctx context.Context, username, email, password string) (domain.User, error) {
	username, email = strings.TrimSpace(username), normalizeEmail(email)
	if username == "" || email == "" || password == "" {
		return domain.User{}, requestError("All fields are required")
	}
	return a.createUser(ctx, username, email, password, domain.RoleAdmin, domain.UserVerified)
}

func (a *AuthManager) Login(ctx context.Context, req domain.LoginRequest) (domain.AuthResponse, error) {
	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return domain.AuthResponse{}, requestError("Email and password are required")
	}
	user, err := a.users.GetUserByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		return domain.AuthResponse{}, ErrInvalidCredentials
	}
	if err != nil {
		return domain.AuthResponse{}, err
	}
	if !verifyPassword(user.PasswordHash, req.Password) {
		return domain.AuthResponse{}, ErrInvalidCredentials
	}
	if !mayAct(*user) {
		return domain.AuthResponse{}, ErrPendingVerification
	}
	return a.issue(*user)
}

func (a *AuthManager) Profile(ctx context.Context, userID string) (domain.User, error) {
	user, err := a.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.User{}, &service.Error{Kind: store.ErrNotFound, Message: "User not found"}
	}
	if err != nil {
		return domain.User{}, err
	}
	return *user, nil
}

// Authenticate resolves a bearer token to the acting user. The user is read
// back from the store so that a status change takes effect immediately.
func (a *AuthManager) Authenticate(ctx context.Context, token string) (domain.Actor, error) {
	userID, err := a.ParseToken(token)
	if err != nil {
		return domain.Actor{}, err
	}
	user, err := a.users.GetUserByID(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return domain.Actor{}, ErrInvalidToken
	}
	if err != nil {
		return domain.Actor{}, err
	}
	if !mayAct(*user) {
		return domain.Actor{}, ErrPendingVerification
	}
	return domain.Actor{
		UserID:   user.ID,
		Username: user.Username,
		Role:     user.Role,
		Status:   user.Status,
	}, nil
}

func (a *AuthManager) ParseToken(tokenStr string) (string, error) {
	claims := &carpartsClaims{}
	token, err := jwtlib.ParseWithClaims(tokenStr, claims, func(t *jwtlib.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return a.secret, nil
	}, jwtlib.WithValidMethods([]string{"HS256"}))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return "", ErrInvalidToken
	}
	return sub, nil
}

func (a *AuthManager) createUser(ctx context.Context, username, email, password, role string, status domain.UserStatus) (domain.User, error) {
	if _, err := a.users.GetUserByEmail(ctx, email); err == nil {
		return domain.User{}, &service.Error{Kind: ErrUserExists, Message: ErrUserExists.Error(), Details: "Email already in use"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}
	if _, err := a.users.GetUserByUsername(ctx, username); err == nil {
		return domain.User{}, &service.Error{Kind: ErrUserExists, Message: ErrUserExists.Error(), Details: "Username already taken"}
	} else if !errors.Is(err, store.ErrNotFound) {
		return domain.User{}, err
	}

	hash, err := hashPassword(password)
	if err != nil {
		return domain.User{}, err
	}
	user := domain.User{
		ID:           xid.New(),
		Username:     username,
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Status:       status,
		CreatedAt:    time.Now().UTC(),
	}
	if err := a.users.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return domain.User{}, &service.Error{Kind: ErrUserExists, Message: ErrUserExists.Error()}
		}
		return domain.User{}, err
	}
	return user, nil
}

func (a *AuthManager) issue(user domain.User) (domain.AuthResponse, error) {
	expiresAt := time.Now().UTC().Add(a.tokenTTL)
	token, err := a.sign(user.ID, user.Role, expiresAt)
	if err != nil {
		return domain.AuthResponse{}, err
	}
	return domain.AuthResponse{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Role:      user.Role,
		Status:    user.Status,
		Token:     token,
		ExpiresAt: expiresAt.Format(time.RFC3339),
	}, nil
}

func (a *AuthManager) sign(userID, role string, expiresAt time.Time) (string, error) {
	claims := carpartsClaims{
		RegisteredClaims: jwtlib.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwtlib.NewNumericDate(time.Now().UTC()),
			ExpiresAt: jwtlib.NewNumericDate(expiresAt),
			Issuer:    "carparts",
		},
		Role: role,
	}
	token := jwtlib.NewWithClaims(jwtlib.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

// Admins may always act; everyone else needs a verified account.
func mayAct(user domain.User) bool {
	return user.Role == domain.RoleAdmin || user.Status == domain.UserVerified
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func verifyPassword(stored string, input string) bool {
	if stored == "" || input == "" || !isPasswordHash(stored) {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(stored), []byte(input)) == nil
}

func hashPassword(password string) (string, error) {
	bytes, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(bytes), nil
}

func isPasswordHash(value string) bool {
	return strings.HasPrefix(value, "$2a$") || strings.HasPrefix(value, "$2b$") || strings.HasPrefix(value, "$2y$")
}
