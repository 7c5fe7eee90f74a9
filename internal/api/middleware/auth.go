// auth.go — аутентификация API по JWT (RS256, ключи из JWKS внешнего IdP)
// и авторизация по scopes. health и metrics исключаются на уровне роутера.
package middleware

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"slices"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/backup-retention/internal/api/errors"
)

// Scopes API.
const (
	ScopeRead    = "backups:read"
	ScopeCleanup = "backups:cleanup"
	ScopeUpload  = "backups:upload"
)

type contextKey string

const (
	contextKeyPrincipal     contextKey = "principal"
	contextKeySubjectHolder contextKey = "subject_holder"
)

// Principal — владелец проверенного токена.
type Principal struct {
	Subject string
	Scopes  []string
}

// Has возвращает true, если у владельца есть хотя бы один из scopes.
func (p *Principal) Has(scopes ...string) bool {
	return slices.ContainsFunc(scopes, func(s string) bool {
		return slices.Contains(p.Scopes, s)
	})
}

// subjectHolder передаёт subject из JWT middleware обратно в RequestLogger,
// который оборачивает цепочку снаружи и не видит дочерний контекст.
type subjectHolder struct {
	subject string
}

func withSubjectHolder(ctx context.Context, h *subjectHolder) context.Context {
	return context.WithValue(ctx, contextKeySubjectHolder, h)
}

// Claims — JWT claims. Scopes принимаются строкой через пробел ("scope",
// как выдаёт Keycloak) или массивом ("scopes").
type Claims struct {
	jwt.RegisteredClaims
	ScopeString string   `json:"scope"`
	ScopeArray  []string `json:"scopes"`
}

// Scopes объединяет оба формата.
func (c *Claims) Scopes() []string {
	return append(strings.Fields(c.ScopeString), c.ScopeArray...)
}

// JWTAuth проверяет токены по ключам JWKS.
type JWTAuth struct {
	jwks      keyfunc.Keyfunc
	jwtLeeway time.Duration
	logger    *slog.Logger
}

// JWTAuthConfig — параметры JWT middleware (секция auth конфигурации).
type JWTAuthConfig struct {
	JWKSURL         string
	CACertPath      string
	TLSSkipVerify   bool
	ClientTimeout   time.Duration
	RefreshInterval time.Duration
	JWTLeeway       time.Duration
}

// NewJWTAuth загружает ключи из JWKS endpoint и обновляет их в фоне.
// Недоступный при старте IdP не мешает запуску: до первой успешной
// загрузки ключей все токены отклоняются.
func NewJWTAuth(cfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	client, err := jwksClient(cfg)
	if err != nil {
		return nil, err
	}

	keys, err := jwkset.NewStorageFromHTTP(cfg.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    client,
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           cfg.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Не удалось обновить ключи JWKS",
				slog.String("jwks_url", cfg.JWKSURL),
				slog.String("error", err.Error()),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("JWKS %s: %w", cfg.JWKSURL, err)
	}

	kf, err := keyfunc.New(keyfunc.Options{Storage: keys})
	if err != nil {
		return nil, fmt.Errorf("keyfunc: %w", err)
	}
	return NewJWTAuthWithKeyfunc(kf, cfg.JWTLeeway, logger), nil
}

// jwksClient — HTTP-клиент для IdP с собственным CA и таймаутом.
func jwksClient(cfg JWTAuthConfig) (*http.Client, error) {
	tlsCfg := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: cfg.TLSSkipVerify, //nolint:gosec // BR_AUTH_TLS_SKIP_VERIFY, только для стендов
	}
	if cfg.CACertPath != "" {
		pool, err := loadCAPool(cfg.CACertPath)
		if err != nil {
			return nil, err
		}
		tlsCfg.RootCAs = pool
	}
	return &http.Client{
		Timeout:   cfg.ClientTimeout,
		Transport: &http.Transport{TLSClientConfig: tlsCfg, Proxy: http.ProxyFromEnvironment},
	}, nil
}

// loadCAPool добавляет PEM-сертификаты из файла к системным.
func loadCAPool(path string) (*x509.CertPool, error) {
	pem, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("auth.ca_cert: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("auth.ca_cert: в %s нет PEM-сертификатов", path)
	}
	return pool, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc.
func NewJWTAuthWithKeyfunc(kf keyfunc.Keyfunc, leeway time.Duration, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{jwks: kf, jwtLeeway: leeway, logger: logger.With(slog.String("component", "auth"))}
}

// Middleware пропускает только запросы с действительным RS256-токеном
// и кладёт Principal в контекст.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, reason := j.authenticate(r)
			if p == nil {
				apierrors.Unauthorized(w, reason)
				return
			}
			if h, ok := r.Context().Value(contextKeySubjectHolder).(*subjectHolder); ok {
				h.subject = p.Subject
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), contextKeyPrincipal, p)))
		})
	}
}

// authenticate проверяет токен запроса. При отказе возвращает nil и
// причину для ответа 401.
func (j *JWTAuth) authenticate(r *http.Request) (*Principal, string) {
	raw, reason := bearerToken(r)
	if raw == "" {
		return nil, reason
	}

	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, j.jwks.KeyfuncCtx(r.Context()),
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	)
	if err != nil {
		j.logger.Debug("Токен отклонён",
			slog.String("error", err.Error()),
			slog.String("remote_addr", r.RemoteAddr),
			slog.String("path", r.URL.Path),
		)
		return nil, "Токен недействителен или истёк"
	}
	if claims.Subject == "" {
		return nil, "В токене нет claim sub"
	}
	return &Principal{Subject: claims.Subject, Scopes: claims.Scopes()}, ""
}

// bearerToken извлекает токен из заголовка Authorization.
func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Требуется заголовок Authorization"
	}
	scheme, token, found := strings.Cut(header, " ")
	switch {
	case !found || !strings.EqualFold(scheme, "Bearer"):
		return "", "Ожидается схема Bearer"
	case strings.TrimSpace(token) == "":
		return "", "Токен не передан"
	}
	return strings.TrimSpace(token), ""
}

// RequireScope пропускает запрос, если у владельца токена есть хотя бы
// один из scopes. Без JWT middleware (Principal в контексте нет) проверка
// не выполняется: так API работает без auth.jwks_url.
func RequireScope(scopes ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := r.Context().Value(contextKeyPrincipal).(*Principal)
			if ok && !p.Has(scopes...) {
				apierrors.Forbidden(w, "Нет прав на операцию, нужен scope "+strings.Join(scopes, " или "))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// PrincipalFromContext возвращает владельца токена или nil.
func PrincipalFromContext(ctx context.Context) *Principal {
	p, _ := ctx.Value(contextKeyPrincipal).(*Principal)
	return p
}

// SubjectFromContext возвращает sub токена или пустую строку.
func SubjectFromContext(ctx context.Context) string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Subject
	}
	return ""
}

// ScopesFromContext возвращает scopes токена.
func ScopesFromContext(ctx context.Context) []string {
	if p := PrincipalFromContext(ctx); p != nil {
		return p.Scopes
	}
	return nil
}
