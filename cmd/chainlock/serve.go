package main

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/quay/zlog"
	"github.com/spf13/cobra"

	"github.com/chainlock/chainlock"
	"github.com/chainlock/chainlock/controller"
	"github.com/chainlock/chainlock/librisk"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Expose the analyser over HTTP",
	Long: `Serve starts a small HTTP API around the run controller: start a run,
poll its status and log, cancel it, and fetch the finished report. One run is
active at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		lib, err := librisk.New(ctx, optsFromConfig())
		if err != nil {
			return err
		}
		defer lib.Close()

		srv := &http.Server{
			Addr:        serveAddr,
			Handler:     newHandler(controller.New(lib.RunFunc())),
			BaseContext: func(_ net.Listener) context.Context { return ctx },
		}
		go func() {
			<-ctx.Done()
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(sctx)
		}()
		zlog.Info(ctx).Str("addr", serveAddr).Msg("http server starting")
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "localhost:8089", "listen address")
}

type startRequest struct {
	Target              string  `json:"target"`
	Ecosystem           string  `json:"ecosystem,omitempty"`
	ConfidenceThreshold float64 `json:"confidence_threshold,omitempty"`
	SkipExternal        bool    `json:"skip_external,omitempty"`
}

func newHandler(ctrl *controller.Controller) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/analyses", func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			apiError(w, http.StatusBadRequest, err)
			return
		}
		if req.Target == "" {
			apiError(w, http.StatusBadRequest, errors.New("target is required"))
			return
		}
		var eco chainlock.Ecosystem
		if req.Ecosystem != "" {
			e, err := chainlock.ParseEcosystem(req.Ecosystem)
			if err != nil {
				apiError(w, http.StatusBadRequest, err)
				return
			}
			eco = e
		}
		err := ctrl.Start(r.Context(), &controller.StartOptions{
			Target:              req.Target,
			Ecosystem:           eco,
			ConfidenceThreshold: req.ConfidenceThreshold,
			SkipExternal:        req.SkipExternal,
		})
		switch {
		case errors.Is(err, controller.ErrBusy):
			apiError(w, http.StatusConflict, err)
		case err != nil:
			apiError(w, http.StatusInternalServerError, err)
		default:
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(ctrl.Status())
		}
	})
	mux.HandleFunc("GET /v1/analyses/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ctrl.Status())
	})
	mux.HandleFunc("POST /v1/analyses/cancel", func(w http.ResponseWriter, r *http.Request) {
		ctrl.Cancel()
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("GET /v1/analyses/report", func(w http.ResponseWriter, r *http.Request) {
		st := ctrl.Status()
		if st.State != controller.StateCompleted || st.ResultPath == "" {
			apiError(w, http.StatusNotFound, errors.New("no completed report"))
			return
		}
		b, err := os.ReadFile(st.ResultPath)
		if err != nil {
			apiError(w, http.StatusInternalServerError, err)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(b)
	})
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func apiError(w http.ResponseWriter, code int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
