package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xela07ax/fleetgate/internal/infra"
	"github.com/xela07ax/fleetgate/internal/infra/auth"
)

// Handlers — набор бизнес-обработчиков, собираемый в main.
// Интерфейсные типы здесь не нужны: сервер просто маршрутизирует.
type Handlers struct {
	Auth      AuthRoutes
	Handshake HandshakeRoutes
	Heartbeat HeartbeatRoutes
	Install   InstallRoutes
	Agents    AgentRoutes
	Alerts    AlertRoutes
	Policies  PolicyRoutes
}

type AuthRoutes interface {
	Login(w http.ResponseWriter, r *http.Request)
}

type HandshakeRoutes interface {
	Handshake(w http.ResponseWriter, r *http.Request)
}

type HeartbeatRoutes interface {
	Ingest(w http.ResponseWriter, r *http.Request)
}

type InstallRoutes interface {
	Bash(w http.ResponseWriter, r *http.Request)
	PowerShell(w http.ResponseWriter, r *http.Request)
	Python(w http.ResponseWriter, r *http.Request)
}

type AgentRoutes interface {
	Register(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Get(w http.ResponseWriter, r *http.Request)
	Delete(w http.ResponseWriter, r *http.Request)
	Restart(w http.ResponseWriter, r *http.Request)
	MetricsHistory(w http.ResponseWriter, r *http.Request)
}

type AlertRoutes interface {
	CreateChannel(w http.ResponseWriter, r *http.Request)
	CreateConfig(w http.ResponseWriter, r *http.Request)
	List(w http.ResponseWriter, r *http.Request)
	Resolve(w http.ResponseWriter, r *http.Request)
}

type PolicyRoutes interface {
	Create(w http.ResponseWriter, r *http.Request)
}

type Server struct {
	router    *chi.Mux
	logger    *zap.Logger
	cfg       *infra.Config
	metrics   *Metrics
	validator auth.UserValidator
	h         Handlers
}

// NewServer собирает роутер контрол-плейна со всеми зависимостями.
func NewServer(cfg *infra.Config, logger *zap.Logger, metrics *Metrics, validator auth.UserValidator, h Handlers) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		logger:    logger.Named("http"),
		cfg:       cfg,
		metrics:   metrics,
		validator: validator,
		h:         h,
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	r := s.router

	// --- 1. Глобальные инфраструктурные Middleware (для всех) ---
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(TracingMiddleware)
	r.Use(MetricsMiddleware(s.metrics))

	// Пермиссивный CORS: любой origin, preflight закрывается без прохода в роуты.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:     []string{"*"},
		AllowedMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:     []string{"Content-Type", "Authorization"},
		OptionsPassthrough: true,
	}))
	r.Use(optionsNoContent)

	// --- 2. ПУБЛИЧНЫЕ РОУТЫ (агентский трафик и логин) ---
	r.Group(func(r chi.Router) {
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		})

		// Install-скрипты (text/plain)
		r.Get("/api/v1/install-agent", s.h.Install.Bash)
		r.Get("/api/v1/install-agent-ps", s.h.Install.PowerShell)
		r.Get("/api/v1/install-agent-py", s.h.Install.Python)

		// Логин оператора
		r.Post("/api/v1/auth/token", s.h.Auth.Login)

		// Аутентификация агентов — своим протоколом, не user-токеном
		r.Post("/api/v1/agents/handshake", s.h.Handshake.Handshake)
		r.Post("/api/v1/heartbeat", s.h.Heartbeat.Ingest)
	})

	// --- 3. ЗАЩИЩЕННЫЙ ПЕРИМЕТР (требует операторский токен) ---
	r.Group(func(r chi.Router) {
		r.Use(auth.NewUserMiddleware(s.validator, s.logger))

		r.Route("/api/v1/agents", func(r chi.Router) {
			r.Post("/", s.h.Agents.Register)
			r.Get("/", s.h.Agents.List)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.h.Agents.Get)
				r.Delete("/", s.h.Agents.Delete)
				r.Post("/restart", s.h.Agents.Restart)
				r.Get("/metrics", s.h.Agents.MetricsHistory)
			})
		})

		// Алертинг (тарифный гейт внутри хэндлеров)
		r.Post("/api/v1/alert-channels", s.h.Alerts.CreateChannel)
		r.Post("/api/v1/alert-configs", s.h.Alerts.CreateConfig)
		r.Get("/api/v1/alerts", s.h.Alerts.List)
		r.Post("/api/v1/alerts/{id}/resolve", s.h.Alerts.Resolve)

		// Кастомные политики (enterprise)
		r.Post("/api/v1/custom-policies", s.h.Policies.Create)
	})
}

// optionsNoContent закрывает preflight-запросы кодом 204.
// CORS-заголовки к этому моменту уже выставлены middleware'ом выше.
func optionsNoContent(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServeHTTP позволяет использовать Server как стандартный http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}
