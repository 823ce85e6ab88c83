// Copyright 2024 PingCAP, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.


package server

import (
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/pingcap/log"
	"github.com/pingcap/rowactor/pkg/logutil"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BridgeStatus is the status of a bridge.
type BridgeStatus struct {
	Table       string `json:"table"`
	Transport   string `json:"transport"`
	Path        string `json:"path"`
	Subscribers int    `json:"subscribers"`
	Running     bool   `json:"running"`
}

// MirrorStatus is the status of a mirror.
type MirrorStatus struct {
	Source    string `json:"source"`
	Table     string `json:"table"`
	Transport string `json:"transport"`
	Path      string `json:"path"`
	Copied    int64  `json:"copied"`
	Deleted   int64  `json:"deleted"`
}

// Status is the status of a server.
type Status struct {
	Location string         `json:"location"`
	Bridges  []BridgeStatus `json:"bridges"`
	Mirrors  []MirrorStatus `json:"mirrors"`
}

// LogLevelRequest changes the log level.
type LogLevelRequest struct {
	Level string `json:"log_level"`
}

// HTTPError is the body of a failed API call.
type HTTPError struct {
	Error string `json:"error_msg"`
}

func newRouter(s *Server) *gin.Engine {
	// discard gin default log output
	gin.DefaultWriter = io.Discard
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	// add gin.Recovery() to handle unexpected panic
	router.Use(gin.Recovery())

	router.GET("/api/v1/status", s.handleStatus)
	router.GET("/api/v1/health", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	router.POST("/api/v1/log", handleSetLogLevel)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})))
	return router
}

// Status returns the status of the server.
func (s *Server) Status() Status {
	status := Status{
		Location: s.cfg.Location,
		Bridges:  make([]BridgeStatus, 0, len(s.bridges)),
		Mirrors:  make([]MirrorStatus, 0, len(s.mirrors)),
	}
	for _, e := range s.bridges {
		running := true
		select {
		case <-e.bridge.Done():
			running = false
		default:
		}
		status.Bridges = append(status.Bridges, BridgeStatus{
			Table:       e.cfg.TableID().String(),
			Transport:   e.cfg.Transport,
			Path:        e.path.String(),
			Subscribers: e.bridge.NumSubscribers(),
			Running:     running,
		})
	}
	for _, e := range s.mirrors {
		status.Mirrors = append(status.Mirrors, MirrorStatus{
			Source:    e.cfg.SourceTableID().String(),
			Table:     e.cfg.TableID().String(),
			Transport: e.cfg.Transport,
			Path:      e.path.String(),
			Copied:    e.mirror.Copied(),
			Deleted:   e.mirror.Deleted(),
		})
	}
	return status
}

func (s *Server) handleStatus(c *gin.Context) {
	c.IndentedJSON(http.StatusOK, s.Status())
}

func handleSetLogLevel(c *gin.Context) {
	var req LogLevelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.IndentedJSON(http.StatusBadRequest, HTTPError{Error: err.Error()})
		return
	}
	if err := logutil.SetLogLevel(req.Level); err != nil {
		c.IndentedJSON(http.StatusBadRequest, HTTPError{Error: err.Error()})
		return
	}
	log.Warn("log level changed", zap.String("level", req.Level))
	c.Status(http.StatusOK)
}
