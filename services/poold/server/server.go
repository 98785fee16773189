package server

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"factorpool/crypto"
	"factorpool/native/pool"
	"factorpool/observability/metrics"
)

// Server exposes the pool's read surface over HTTP. All mutation flows run
// through the engine elsewhere; this daemon only reports.
type Server struct {
	engine  *pool.Engine
	log     *slog.Logger
	metrics *metrics.PoolMetrics

	router http.Handler
}

// New constructs a configured HTTP router around the engine.
func New(engine *pool.Engine, log *slog.Logger, poolMetrics *metrics.PoolMetrics) *Server {
	if log == nil {
		log = slog.Default()
	}
	srv := &Server{engine: engine, log: log, metrics: poolMetrics}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(s.requestLogger)
	r.Use(chimw.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/v1", func(api chi.Router) {
		api.Get("/pool/stats", s.getStats)
		api.Get("/pool/positions/{address}", s.getPosition)
		api.Get("/loans/{id}", s.getLoan)
		api.Get("/documents/{fingerprint}", s.getDocument)
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}

// requestLogger assigns each request an identifier and writes one structured
// access log line per request.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := strings.TrimSpace(r.Header.Get("X-Request-Id"))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", requestID)

		start := time.Now()
		wrapped := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(wrapped, r)

		s.log.Info("request",
			"id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", wrapped.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

type statsResponse struct {
	PoolID            string `json:"poolId"`
	TotalAssets       string `json:"totalAssets"`
	TotalShares       string `json:"totalShares"`
	TotalActiveLoans  string `json:"totalActiveLoans"`
	UtilizationBps    uint64 `json:"utilizationBps"`
	AvailableForLoans string `json:"availableForLoans"`
	EstimatedApyBps   uint64 `json:"estimatedApyBps"`
}

func (s *Server) getStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.Stats()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	apy, err := s.engine.EstimatedAPYBps()
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.publishGauges(stats)

	writeJSON(w, http.StatusOK, statsResponse{
		PoolID:            s.engine.PoolID(),
		TotalAssets:       stats.TotalAssets.Dec(),
		TotalShares:       stats.TotalShares.Dec(),
		TotalActiveLoans:  stats.TotalActiveLoans.Dec(),
		UtilizationBps:    stats.UtilizationBps,
		AvailableForLoans: stats.AvailableForLoans.Dec(),
		EstimatedApyBps:   apy,
	})
}

// publishGauges mirrors the latest snapshot into prometheus. Conversion to
// float64 is lossy for very large balances; the gauges are dashboard hints.
func (s *Server) publishGauges(stats *pool.PoolStats) {
	if s.metrics == nil {
		return
	}
	s.metrics.SetTotalAssets(amountToFloat(stats.TotalAssets))
	s.metrics.SetActiveLoanPrincipal(amountToFloat(stats.TotalActiveLoans))
	s.metrics.SetUtilizationBps(float64(stats.UtilizationBps))
}

func amountToFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	parsed, err := strconv.ParseFloat(v.Dec(), 64)
	if err != nil {
		return 0
	}
	return parsed
}

type positionResponse struct {
	Address          string `json:"address"`
	Shares           string `json:"shares"`
	TotalDeposited   string `json:"totalDeposited"`
	TotalWithdrawn   string `json:"totalWithdrawn"`
	RedeemableAssets string `json:"redeemableAssets"`
}

func (s *Server) getPosition(w http.ResponseWriter, r *http.Request) {
	addr, err := crypto.DecodeAddress(chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid address")
		return
	}
	position, err := s.engine.GetPosition(addr)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	redeemable, err := s.engine.ConvertToAssets(position.Shares)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, positionResponse{
		Address:          addr.String(),
		Shares:           position.Shares.Dec(),
		TotalDeposited:   position.TotalDeposited.Dec(),
		TotalWithdrawn:   position.TotalWithdrawn.Dec(),
		RedeemableAssets: redeemable.Dec(),
	})
}

type loanResponse struct {
	ID                  uint64 `json:"id"`
	Principal           string `json:"principal"`
	ExpectedYieldBps    uint64 `json:"expectedYieldBps"`
	RiskScore           uint8  `json:"riskScore"`
	Seller              string `json:"seller"`
	DocumentFingerprint string `json:"documentFingerprint"`
	FundedAt            int64  `json:"fundedAt"`
	DueDate             int64  `json:"dueDate"`
	Status              string `json:"status"`
}

func loanToResponse(loan *pool.Loan) loanResponse {
	seller := ""
	if !loan.Seller.IsZero() {
		seller = loan.Seller.String()
	}
	return loanResponse{
		ID:                  loan.ID,
		Principal:           loan.Principal.Dec(),
		ExpectedYieldBps:    loan.ExpectedYieldBps,
		RiskScore:           loan.RiskScore,
		Seller:              seller,
		DocumentFingerprint: hex.EncodeToString(loan.DocumentFingerprint[:]),
		FundedAt:            loan.FundedAt,
		DueDate:             loan.DueDate,
		Status:              loan.Status.String(),
	}
}

func (s *Server) getLoan(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid loan id")
		return
	}
	loan, err := s.engine.GetLoan(id)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loanToResponse(loan))
}

type documentResponse struct {
	Fingerprint string `json:"fingerprint"`
	Financed    bool   `json:"financed"`
	LoanID      uint64 `json:"loanId,omitempty"`
	Status      string `json:"status,omitempty"`
}

func (s *Server) getDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint, err := parseFingerprint(chi.URLParam(r, "fingerprint"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid fingerprint")
		return
	}
	loan, ok, err := s.engine.GetLoanByFingerprint(fingerprint)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	resp := documentResponse{Fingerprint: hex.EncodeToString(fingerprint[:]), Financed: ok}
	if ok {
		resp.LoanID = loan.ID
		resp.Status = loan.Status.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseFingerprint(raw string) ([32]byte, error) {
	var out [32]byte
	normalized := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(raw)), "0x")
	decoded, err := hex.DecodeString(normalized)
	if err != nil {
		return out, err
	}
	if len(decoded) != 32 {
		return out, errors.New("fingerprint must be 32 bytes")
	}
	copy(out[:], decoded)
	return out, nil
}

func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pool.ErrLoanNotFound):
		writeError(w, http.StatusNotFound, "loan not found")
	case errors.Is(err, pool.ErrPoolNotInitialized):
		writeError(w, http.StatusServiceUnavailable, "pool not initialized")
	case errors.Is(err, pool.ErrPoolHalted), errors.Is(err, pool.ErrIntegrity):
		writeError(w, http.StatusConflict, "pool halted")
	default:
		s.log.Error("engine query failed", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
