// Package session keeps the bearer token and current user in the workspace
// database so that successive CLI invocations share one login.
package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"freshchain/internal/domain"
	freshchainsdk "freshchain/sdk/go"
)

const (
	tokenKey = "freshchain_token"
	userKey  = "freshchain_user"

	// adminUsername is the account whose login must carry a wallet address.
	adminUsername = "admin"
)

// ErrWalletRequired is returned before any request when the admin account logs
// in without a wallet address.
var ErrWalletRequired = errors.New("Admin requires MetaMask wallet connection")

// Authenticator exchanges credentials for a token. *freshchainsdk.Client
// satisfies it.
type Authenticator interface {
	Login(ctx context.Context, req freshchainsdk.LoginRequest) (freshchainsdk.LoginResponse, error)
}

type Store struct {
	DB     *sql.DB
	Logger *zap.Logger
	Now    func() time.Time

	mu    sync.RWMutex
	token string
	user  *domain.User
}

// Open loads persisted session state. A user record that does not parse is
// treated as a corrupt cache: everything is cleared and the store starts
// logged out.
func Open(ctx context.Context, db *sql.DB, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Store{DB: db, Logger: logger, Now: time.Now}
	token, err := s.get(ctx, tokenKey)
	if err != nil {
		return nil, err
	}
	s.token = token

	raw, err := s.get(ctx, userKey)
	if err != nil {
		return nil, err
	}
	if raw != "" {
		var u domain.User
		if err := json.Unmarshal([]byte(raw), &u); err != nil {
			logger.Warn("discarding corrupt session", zap.Error(err))
			if err := s.clear(ctx); err != nil {
				return nil, err
			}
			return s, nil
		}
		s.user = &u
	}
	return s, nil
}

func (s *Store) get(ctx context.Context, key string) (string, error) {
	var v string
	err := s.DB.QueryRowContext(ctx, `SELECT value FROM session_kv WHERE key=?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read session %s: %w", key, err)
	}
	return v, nil
}

// Login authenticates through auth and persists the token and user.
func (s *Store) Login(ctx context.Context, auth Authenticator, req freshchainsdk.LoginRequest) (domain.User, error) {
	req.Username = strings.TrimSpace(req.Username)
	if req.Username == adminUsername && strings.TrimSpace(req.WalletAddress) == "" {
		return domain.User{}, ErrWalletRequired
	}
	if req.Username != adminUsername {
		req.WalletAddress = ""
	}
	resp, err := auth.Login(ctx, req)
	if err != nil {
		return domain.User{}, err
	}
	u := domain.User{
		ID:            resp.User.ID,
		Username:      resp.User.Username,
		Role:          domain.Role(resp.User.Role),
		WalletAddress: resp.User.WalletAddress,
	}
	userJSON, err := json.Marshal(u)
	if err != nil {
		return domain.User{}, err
	}

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return domain.User{}, err
	}
	defer tx.Rollback()
	now := s.Now().UTC().Format(time.RFC3339)
	for key, value := range map[string]string{tokenKey: resp.Token, userKey: string(userJSON)} {
		if _, err := tx.ExecContext(ctx, `INSERT INTO session_kv(key, value, updated_at) VALUES (?,?,?)
			ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`, key, value, now); err != nil {
			return domain.User{}, fmt.Errorf("persist session: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return domain.User{}, err
	}

	s.mu.Lock()
	s.token = resp.Token
	s.user = &u
	s.mu.Unlock()
	s.Logger.Info("logged in", zap.String("username", u.Username), zap.String("role", string(u.Role)))
	return u, nil
}

// Logout clears memory and persisted state.
func (s *Store) Logout(ctx context.Context) error {
	return s.clear(ctx)
}

func (s *Store) clear(ctx context.Context) error {
	s.mu.Lock()
	s.token = ""
	s.user = nil
	s.mu.Unlock()
	if _, err := s.DB.ExecContext(ctx, `DELETE FROM session_kv WHERE key IN (?, ?)`, tokenKey, userKey); err != nil {
		return fmt.Errorf("clear session: %w", err)
	}
	return nil
}

func (s *Store) Token() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

// User returns the current user, ok is false when logged out.
func (s *Store) User() (domain.User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.user == nil {
		return domain.User{}, false
	}
	return *s.user, true
}

func (s *Store) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token != "" && s.user != nil
}

func (s *Store) HasRole(r domain.Role) bool {
	u, ok := s.User()
	return ok && u.Role == r
}

func (s *Store) Profile() domain.Profile {
	u, _ := s.User()
	return domain.RoleProfile(u.Role)
}

func (s *Store) CanCreateBatch() bool { return s.Profile().Allows(domain.ActionCreateBatch) }
func (s *Store) CanUpdateStage() bool { return s.Profile().Allows(domain.ActionUpdateStage) }
func (s *Store) CanReportAlert() bool { return s.Profile().Allows(domain.ActionReportAlert) }
func (s *Store) NeedsWallet() bool    { return s.Profile().Allows(domain.ActionUseWallet) }
func (s *Store) IsConsumerOnly() bool { return s.HasRole(domain.RoleConsumer) }

// AuthHeaders builds the headers attached to every backend call. The stored
// token is trusted until a request fails.
func (s *Store) AuthHeaders() map[string]string {
	headers := map[string]string{"Content-Type": "application/json"}
	if token := s.Token(); token != "" {
		headers["Authorization"] = "Bearer " + token
	}
	return headers
}
