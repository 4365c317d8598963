// auth.go — аутентификация запросов к OCR Module.
//
// Поддерживаются два способа:
//   - X-API-KEY — общий секрет (OM_API_KEY), сравнение за постоянное время
//   - Authorization: Bearer <JWT> — RS256 токен, подпись проверяется через JWKS (OM_JWKS_URL)
//
// Если передан X-API-KEY, Bearer не проверяется.
package middleware

import (
	"context"
	"crypto/subtle"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/goartstore/ocr-module/internal/api/errors"
)

// APIKeyHeader — заголовок с общим секретом.
const APIKeyHeader = "X-API-KEY"

// apiKeySubject — субъект запросов, аутентифицированных по X-API-KEY.
const apiKeySubject = "api-key"

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims — claims аутентифицированного субъекта.
	ContextKeyClaims contextKey = "auth_claims"
)

// AuthClaims — данные аутентифицированного субъекта.
type AuthClaims struct {
	// Subject — sub из JWT или "api-key"
	Subject string
	// Method — способ аутентификации ("api_key" или "jwt")
	Method string
	// Scopes — scopes из claim "scope" (только JWT)
	Scopes []string
}

// Claims — claims JWT, которые читает OCR Module.
type Claims struct {
	jwt.RegisteredClaims
	// Scope — scopes через пробел
	Scope string `json:"scope,omitempty"`
}

// Auth — middleware аутентификации.
type Auth struct {
	apiKey string
	jwks   keyfunc.Keyfunc
	issuer string
	leeway time.Duration
	logger *slog.Logger
}

// JWTOptions — параметры проверки JWT через JWKS.
type JWTOptions struct {
	// JWKSURL — URL JWKS endpoint (пусто — JWT отключён)
	JWKSURL string
	// Issuer — ожидаемый issuer (пусто — не проверяется)
	Issuer string
	// ClientTimeout — таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// RefreshInterval — интервал обновления ключей
	RefreshInterval time.Duration
	// Leeway — допустимое отклонение времени
	Leeway time.Duration
}

// NewAuth создаёт middleware аутентификации.
// apiKey — общий секрет (пусто — X-API-KEY отключён).
func NewAuth(apiKey string, opts JWTOptions, logger *slog.Logger) (*Auth, error) {
	a := &Auth{
		apiKey: apiKey,
		issuer: opts.Issuer,
		leeway: opts.Leeway,
		logger: logger.With(slog.String("component", "auth")),
	}
	if opts.JWKSURL == "" {
		return a, nil
	}

	// JWKS Storage с фоновым обновлением.
	// NoErrorReturnFirstHTTPReq — стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(opts.JWKSURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: opts.ClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           opts.RefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", opts.JWKSURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{Storage: storage})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}
	a.jwks = k
	return a, nil
}

// NewAuthWithKeyfunc создаёт middleware с готовым keyfunc.
// Используется в тестах.
func NewAuthWithKeyfunc(apiKey string, kf keyfunc.Keyfunc, issuer string, logger *slog.Logger) *Auth {
	return &Auth{
		apiKey: apiKey,
		jwks:   kf,
		issuer: issuer,
		logger: logger.With(slog.String("component", "auth")),
	}
}

// Middleware возвращает HTTP middleware аутентификации.
func (a *Auth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if key := r.Header.Get(APIKeyHeader); key != "" {
				if !a.checkAPIKey(key) {
					a.logger.Debug("Неверный API-ключ", slog.String("remote_addr", r.RemoteAddr))
					apierrors.Unauthorized(w, "Неверный API-ключ")
					return
				}
				claims := &AuthClaims{Subject: apiKeySubject, Method: "api_key"}
				next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyClaims, claims)))
				return
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" || a.jwks == nil {
				apierrors.Unauthorized(w, "Требуется X-API-KEY или Bearer token")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
				apierrors.Unauthorized(w, "Неверный формат Authorization: ожидается Bearer <token>")
				return
			}

			claims, err := a.parseToken(r.Context(), parts[1])
			if err != nil {
				a.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Невалидный или просроченный токен")
				return
			}

			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ContextKeyClaims, claims)))
		})
	}
}

// checkAPIKey сравнивает ключ за постоянное время.
func (a *Auth) checkAPIKey(key string) bool {
	if a.apiKey == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(a.apiKey)) == 1
}

// parseToken валидирует JWT (RS256, exp обязателен) и извлекает claims.
func (a *Auth) parseToken(ctx context.Context, tokenString string) (*AuthClaims, error) {
	raw := &Claims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(a.leeway),
	}
	if a.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, raw, a.jwks.KeyfuncCtx(ctx), parserOpts...)
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, fmt.Errorf("невалидный токен")
	}

	subject, err := raw.GetSubject()
	if err != nil || subject == "" {
		return nil, fmt.Errorf("отсутствует sub в токене")
	}

	return &AuthClaims{
		Subject: subject,
		Method:  "jwt",
		Scopes:  strings.Fields(raw.Scope),
	}, nil
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста запроса.
// Возвращает nil, если claims не найдены.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// SubjectFromContext извлекает субъект из контекста запроса.
func SubjectFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return ""
	}
	return claims.Subject
}
