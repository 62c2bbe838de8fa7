package httpapi

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/rcliao/memory-bank/internal/tools"
)

func (s *Server) createBlock(c *gin.Context) {
	var req tools.CreateBlockRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusCreated, s.tools.CreateBlock(c.Request.Context(), req))
}

func (s *Server) getBlock(c *gin.Context) {
	respond(c, http.StatusOK, s.tools.GetBlock(c.Request.Context(), tools.GetBlockRequest{ID: c.Param("id")}))
}

func (s *Server) updateBlock(c *gin.Context) {
	var req tools.UpdateBlockRequest
	if !bind(c, &req) {
		return
	}
	req.ID = c.Param("id")
	respond(c, http.StatusOK, s.tools.UpdateBlock(c.Request.Context(), req))
}

func (s *Server) deleteBlock(c *gin.Context) {
	req := tools.DeleteBlockRequest{
		ID:        c.Param("id"),
		Force:     queryBool(c, "force"),
		DeletedBy: c.Query("by"),
	}
	respond(c, http.StatusOK, s.tools.DeleteBlock(c.Request.Context(), req))
}

// GET /blocks?tags=a,b&all=true
func (s *Server) blocksByTags(c *gin.Context) {
	req := tools.QueryByTagsRequest{Tags: splitList(c.Query("tags")), MatchAll: queryBool(c, "all")}
	respond(c, http.StatusOK, s.tools.QueryBlocksByTags(c.Request.Context(), req))
}

func (s *Server) searchBlocks(c *gin.Context) {
	var req tools.QuerySemanticRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusOK, s.tools.QueryBlocksSemantic(c.Request.Context(), req))
}

func (s *Server) addValidationReport(c *gin.Context) {
	var req tools.AddValidationReportRequest
	if !bind(c, &req) {
		return
	}
	req.BlockID = c.Param("id")
	respond(c, http.StatusOK, s.tools.AddValidationReport(c.Request.Context(), req))
}

func (s *Server) addLink(c *gin.Context) {
	var req tools.LinkRequest
	if !bind(c, &req) {
		return
	}
	req.FromID = c.Param("id")
	respond(c, http.StatusOK, s.tools.AddLink(c.Request.Context(), req))
}

// DELETE /blocks/:id/links?to_id=...&relation=...
func (s *Server) removeLink(c *gin.Context) {
	req := tools.LinkRequest{FromID: c.Param("id"), ToID: c.Query("to_id"), Relation: c.Query("relation")}
	respond(c, http.StatusOK, s.tools.RemoveLink(c.Request.Context(), req))
}

func (s *Server) backlinks(c *gin.Context) {
	respond(c, http.StatusOK, s.tools.GetBacklinks(c.Request.Context(), tools.BacklinksRequest{ID: c.Param("id")}))
}

func (s *Server) listSchemas(c *gin.Context) {
	respond(c, http.StatusOK, s.tools.ListSchemas(c.Request.Context()))
}

func (s *Server) registerSchema(c *gin.Context) {
	var req tools.RegisterSchemaRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusCreated, s.tools.RegisterSchema(c.Request.Context(), req))
}

// GET /schemas/:type and /schemas/:type/:version; "latest" or no version
// selects the newest.
func (s *Server) getSchema(c *gin.Context) {
	req := tools.GetSchemaRequest{Type: c.Param("type")}
	if v := c.Param("version"); v != "" && v != "latest" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, tools.Result{
				Error:     "validation: version must be a positive integer or latest",
				ErrorKind: "validation",
			})
			return
		}
		req.Version = n
	}
	respond(c, http.StatusOK, s.tools.GetSchema(c.Request.Context(), req))
}

func (s *Server) validateMetadata(c *gin.Context) {
	var req tools.ValidateMetadataRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusOK, s.tools.ValidateMetadata(c.Request.Context(), req))
}

func (s *Server) reindex(c *gin.Context) {
	var req tools.ReindexRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusOK, s.tools.Reindex(c.Request.Context(), req))
}

func (s *Server) buildContext(c *gin.Context) {
	var req tools.ContextRequest
	if !bind(c, &req) {
		return
	}
	respond(c, http.StatusOK, s.tools.BuildContext(c.Request.Context(), req))
}

func (s *Server) stats(c *gin.Context) {
	respond(c, http.StatusOK, s.tools.Stats(c.Request.Context()))
}
