package controlapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lumapart/raftengine/pkg/authguard"
)

// HTTPServer exposes the same operations as the gRPC ServiceDesc over
// plain JSON, for operators and tooling that would rather curl an admin
// endpoint than speak gRPC.
type HTTPServer struct {
	server *Server
	logger *zap.Logger
	engine *gin.Engine
}

// NewHTTPServer builds an HTTPServer delegating to server. guard may be
// nil or disabled, in which case every route is open.
func NewHTTPServer(server *Server, guard *authguard.Guard, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	gin.SetMode(gin.ReleaseMode)
	e := gin.New()
	e.Use(gin.Recovery())
	if guard != nil {
		e.Use(guard.GinMiddleware())
	}

	h := &HTTPServer{server: server, logger: logger, engine: e}
	h.routes()
	return h
}

func (h *HTTPServer) Handler() http.Handler { return h.engine }

func (h *HTTPServer) routes() {
	g := h.engine.Group("/v1/tables/:table/partitions/:partition")
	g.GET("/open", h.open)
	g.GET("/status", h.status)
	g.POST("/snapshots", h.createSnapshot)
	g.POST("/snapshots/install", h.openSnapshot)
	g.DELETE("/snapshots/:name", h.deleteSnapshot)
	g.GET("/metadata/:key", h.readMetadata)
	g.POST("/read", h.read)
}

func partitionRef(c *gin.Context) (PartitionRef, error) {
	table := c.Param("table")
	partition, err := strconv.ParseUint(c.Param("partition"), 10, 32)
	if err != nil {
		return PartitionRef{}, err
	}
	return PartitionRef{Table: table, Partition: uint32(partition)}, nil
}

func (h *HTTPServer) open(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.server.Open(c.Request.Context(), &OpenRequest{Partition: ref})
	respondJSON(c, resp, err)
}

func (h *HTTPServer) status(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.server.Status(c.Request.Context(), &StatusRequest{Partition: ref})
	respondJSON(c, resp, err)
}

func (h *HTTPServer) createSnapshot(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		Name string `json:"name"`
	}
	_ = c.ShouldBindJSON(&body)
	resp, err := h.server.CreateSnapshot(c.Request.Context(), &CreateSnapshotRequest{Partition: ref, Name: body.Name})
	respondJSON(c, resp, err)
}

func (h *HTTPServer) openSnapshot(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body struct {
		Index uint64 `json:"index"`
		Term  uint64 `json:"term"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.server.OpenSnapshot(c.Request.Context(), &OpenSnapshotRequest{Partition: ref, Index: body.Index, Term: body.Term})
	respondJSON(c, resp, err)
}

func (h *HTTPServer) deleteSnapshot(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.server.DeleteSnapshot(c.Request.Context(), &DeleteSnapshotRequest{Partition: ref, Name: c.Param("name")})
	respondJSON(c, resp, err)
}

func (h *HTTPServer) readMetadata(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	resp, err := h.server.ReadMetadata(c.Request.Context(), &ReadMetadataRequest{Partition: ref, Key: c.Param("key")})
	respondJSON(c, resp, err)
}

func (h *HTTPServer) read(c *gin.Context) {
	ref, err := partitionRef(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	var body ReadRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	body.Partition = ref
	resp, err := h.server.Read(c.Request.Context(), &body)
	respondJSON(c, resp, err)
}

func respondJSON(c *gin.Context, resp interface{}, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}
