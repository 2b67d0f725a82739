package server

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Admsmartfit/academia-sub000/internal/auth"
	"github.com/Admsmartfit/academia-sub000/internal/booking"
	"github.com/Admsmartfit/academia-sub000/internal/commission"
	"github.com/Admsmartfit/academia-sub000/internal/config"
	"github.com/Admsmartfit/academia-sub000/internal/credits"
	"github.com/Admsmartfit/academia-sub000/internal/retention"
	"github.com/Admsmartfit/academia-sub000/internal/schedule"
	"github.com/Admsmartfit/academia-sub000/internal/subscription"
	"github.com/Admsmartfit/academia-sub000/internal/user"
	"github.com/Admsmartfit/academia-sub000/internal/xp"
)

// Handlers groups the per-domain HTTP handlers the server mounts.
type Handlers struct {
	User         *user.Handler
	Booking      *booking.Handler
	Credits      *credits.Handler
	XP           *xp.Handler
	Schedule     *schedule.Handler
	Subscription *subscription.Handler
	Commission   *commission.Handler
	Retention    *retention.Handler
}

type Server struct {
	router *gin.Engine
	config *config.Config
	http   *http.Server
}

func New(cfg *config.Config, h Handlers) *Server {
	registerValidations()

	router := gin.New()
	router.Use(
		gin.Recovery(),
		corsMiddleware(),
		RateLimitMiddleware(float64(cfg.RateLimitRPS), cfg.RateLimitBurst),
		MetricsMiddleware(),
	)

	public := router.Group("/auth")
	{
		public.POST("/register", h.User.Register)
		public.POST("/login", h.User.Login)
		public.POST("/refresh", h.User.RefreshToken)
	}

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	protected := router.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", h.User.GetMe)
		protected.GET("/schedules", h.Schedule.ListActive)
		protected.GET("/schedules/:scheduleID/gender", h.Schedule.GenderForDate)

		protected.POST("/bookings", h.Booking.Book)
		protected.GET("/bookings", h.Booking.ListMine)
		protected.POST("/bookings/:bookingID/cancel", h.Booking.Cancel)

		protected.GET("/credits", h.Credits.ListMine)
		protected.GET("/credits/preview", h.Credits.Preview)

		protected.GET("/xp/rules", h.XP.ListRules)
		protected.POST("/xp/rules/:ruleID/convert", h.XP.Convert)
		protected.GET("/xp/summary", h.XP.Summary)

		protected.GET("/subscriptions", h.Subscription.ListMine)
	}

	// Check-in terminals and staff finalize bookings.
	terminal := router.Group("/terminal")
	terminal.Use(authMiddleware, auth.RequireRole(
		string(user.RoleTerminal), string(user.RoleAdmin), string(user.RoleInstructor),
	))
	{
		terminal.POST("/bookings/:bookingID/checkin", h.Booking.Checkin)
		terminal.POST("/bookings/:bookingID/no-show", h.Booking.MarkNoShow)
	}

	// Professionals read their own commission statements.
	professional := router.Group("/professional")
	professional.Use(authMiddleware, auth.RequireRole(
		string(user.RoleInstructor), string(user.RoleNutritionist),
		string(user.RoleTechnician), string(user.RoleAdmin),
	))
	{
		professional.GET("/statement", h.Commission.Statement)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(string(user.RoleAdmin)))
	{
		admin.POST("/credits/debit", h.Credits.Debit)
		admin.POST("/credits/refund", h.Credits.Refund)
		admin.POST("/credits/expire", h.Credits.Expire)

		admin.POST("/xp/grant", h.XP.Grant)

		admin.POST("/payments/:paymentID/charge", h.Subscription.CreateCharge)
		admin.POST("/payments/:paymentID/register", h.Subscription.RegisterPayment)
		admin.POST("/subscriptions/:subscriptionID/unsuspend", h.Subscription.Unsuspend)
		admin.POST("/dunning/run", h.Subscription.RunDunning)

		admin.GET("/commissions/statements/:professionalID", h.Commission.StatementFor)
		admin.POST("/commissions/suggestions/recompute", h.Commission.RecomputeSuggestions)
		admin.POST("/commissions/suggestions/:configID/apply", h.Commission.ApplySuggestion)
		admin.POST("/commissions/suggestions/:configID/reject", h.Commission.RejectSuggestion)
		admin.POST("/commissions/payouts/generate", h.Commission.GeneratePayouts)
		admin.POST("/commissions/payouts/:batchID/approve", h.Commission.ApprovePayout)
		admin.POST("/commissions/payouts/:batchID/paid", h.Commission.MarkPayoutPaid)

		admin.POST("/schedules/:scheduleID/gender", h.Schedule.ForceGender)
		admin.POST("/schedules/distribute", h.Schedule.Distribute)

		admin.GET("/retention/scores/:userID", h.Retention.GetScore)
		admin.POST("/retention/calculate", h.Retention.CalculateScores)
		admin.POST("/retention/automations", h.Retention.RunAutomations)
	}

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return &Server{router: router, config: cfg}
}

func (s *Server) Start(port string) error {
	s.http = &http.Server{Addr: ":" + port, Handler: s.router}
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
