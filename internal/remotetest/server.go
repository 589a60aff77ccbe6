// Package remotetest provides an in-memory implementation of the entity
// and mutual service contracts for integration tests and local
// development. It speaks the same wire shapes as the production backend,
// including opaque last_key pagination.
package remotetest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
)

const defaultPageSize = 50

type mutualKey struct {
	ByEntityType string
	ByEntityID   string
	EntityType   string
	EntityID     string
}

// Server is the fake backend. All state lives in memory behind one
// mutex; handlers are safe for concurrent use.
type Server struct {
	mu       sync.Mutex
	entities map[string]map[string]models.Entity
	tags     map[string]map[string][]string
	mutuals  map[mutualKey]models.Mutual

	failures map[string]int
	calls    map[string]int

	PageSize int

	httpServer *httptest.Server
}

// New starts the fake backend on an ephemeral port.
func New() *Server {
	s := &Server{
		entities: make(map[string]map[string]models.Entity),
		tags:     make(map[string]map[string][]string),
		mutuals:  make(map[mutualKey]models.Mutual),
		failures: make(map[string]int),
		calls:    make(map[string]int),
		PageSize: defaultPageSize,
	}

	e := echo.New()
	e.HideBanner = true

	e.GET("/entities/:entityType", s.listEntities)
	e.GET("/entities/:entityType/search", s.searchEntities)
	e.GET("/entities/:entityType/tags/:tagName", s.listEntitiesByTag)
	e.GET("/entities/:entityType/:id", s.getEntity)
	e.POST("/entities/:entityType", s.createEntity)
	e.PUT("/entities/:entityType/:id", s.upsertEntity)
	e.PATCH("/entities/:entityType/:id", s.editEntity)
	e.DELETE("/entities/:entityType/:id", s.deleteEntity)

	e.GET("/mutuals/:byEntityType/:entityType/:byEntityID", s.listMutuals)
	e.GET("/mutuals/:byEntityType/:entityType/:byEntityID/:entityID", s.getMutual)
	e.POST("/mutuals/:byEntityType/:entityType/:byEntityID/:entityID", s.createMutual)
	e.PATCH("/mutuals/:byEntityType/:entityType/:byEntityID/:entityID", s.editMutual)
	e.DELETE("/mutuals/:byEntityType/:entityType/:byEntityID/:entityID", s.deleteMutual)

	s.httpServer = httptest.NewServer(e)
	return s
}

// URL returns the backend's base URL.
func (s *Server) URL() string {
	return s.httpServer.URL
}

// Close shuts the backend down.
func (s *Server) Close() {
	s.httpServer.Close()
}

// SeedEntity inserts an entity directly, bypassing the HTTP surface.
func (s *Server) SeedEntity(e models.Entity, tags ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.putEntityLocked(e)
	for _, tag := range tags {
		if s.tags[e.EntityType] == nil {
			s.tags[e.EntityType] = make(map[string][]string)
		}
		s.tags[e.EntityType][tag] = append(s.tags[e.EntityType][tag], e.ID)
	}
}

// SeedMutual inserts a relation directly, forward perspective only,
// matching how the production backend stores relations.
func (s *Server) SeedMutual(m models.Mutual) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mutuals[mutualKey{m.ByEntityType, m.ByEntityID, m.EntityType, m.EntityID}] = m
}

// FailNext makes the next n calls of the named operation return the
// status. Operation names match the handler: "list", "search", "tag",
// "get", "create", "upsert", "edit", "delete", "mutual.list",
// "mutual.get", "mutual.create", "mutual.edit", "mutual.delete".
func (s *Server) FailNext(op string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = n
}

// Calls reports how many times the named operation was invoked.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

func (s *Server) putEntityLocked(e models.Entity) {
	if s.entities[e.EntityType] == nil {
		s.entities[e.EntityType] = make(map[string]models.Entity)
	}
	s.entities[e.EntityType][e.ID] = e
}

// failNow counts the call and consumes a pending failure, reporting
// whether the operation should fail.
func (s *Server) failNow(op string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls[op]++
	if s.failures[op] > 0 {
		s.failures[op]--
		return true
	}
	return false
}

func failResponse(c echo.Context, op string) error {
	return c.JSON(http.StatusInternalServerError, map[string]string{"message": op + " failed"})
}

func containsFold(s, sub string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(sub))
}

func (s *Server) pageSize(c echo.Context) int {
	if raw := c.QueryParam("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return s.PageSize
}

// paginate returns the ids after lastKey, at most limit of them, plus
// the continuation token when more remain.
func paginate(ids []string, lastKey string, limit int) ([]string, *string) {
	sort.Strings(ids)

	start := 0
	if lastKey != "" {
		for i, id := range ids {
			if id > lastKey {
				start = i
				break
			}
			start = i + 1
		}
	}

	end := start + limit
	if end > len(ids) {
		end = len(ids)
	}
	page := ids[start:end]

	if end < len(ids) && len(page) > 0 {
		next := page[len(page)-1]
		return page, &next
	}
	return page, nil
}

func (s *Server) listEntities(c echo.Context) error {
	if s.failNow("list") {
		return failResponse(c, "list")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entityType := c.Param("entityType")
	records := s.entities[entityType]

	ids := make([]string, 0, len(records))
	start, end := c.QueryParam("start"), c.QueryParam("end")
	for id := range records {
		if start != "" && id < start {
			continue
		}
		if end != "" && id > end {
			continue
		}
		ids = append(ids, id)
	}

	page, lastKey := paginate(ids, c.QueryParam("last_key"), s.pageSize(c))

	out := models.EntityPage{Data: make([]models.Entity, 0, len(page)), LastKey: lastKey}
	for _, id := range page {
		out.Data = append(out.Data, records[id])
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) searchEntities(c echo.Context) error {
	if s.failNow("search") {
		return failResponse(c, "search")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entityType := c.Param("entityType")
	query := c.QueryParam("q")

	var hits []models.Entity
	for _, e := range s.entities[entityType] {
		if query == "" || containsFold(string(e.Data), query) || containsFold(e.ID, query) {
			hits = append(hits, e)
		}
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].ID < hits[j].ID })
	return c.JSON(http.StatusOK, models.SearchResult{Data: hits})
}

func (s *Server) listEntitiesByTag(c echo.Context) error {
	if s.failNow("tag") {
		return failResponse(c, "tag")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entityType := c.Param("entityType")
	tagName := c.Param("tagName")

	tagged := s.tags[entityType][tagName]
	ids := append([]string(nil), tagged...)
	page, lastKey := paginate(ids, c.QueryParam("last_key"), s.pageSize(c))

	out := models.TaggedPage{Entities: make([]models.Entity, 0, len(page)), LastKey: lastKey}
	for _, id := range page {
		if e, ok := s.entities[entityType][id]; ok {
			out.Entities = append(out.Entities, e)
		}
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) getEntity(c echo.Context) error {
	if s.failNow("get") {
		return failResponse(c, "get")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entities[c.Param("entityType")][c.Param("id")]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "entity not found"})
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) createEntity(c echo.Context) error {
	if s.failNow("create") {
		return failResponse(c, "create")
	}

	var draft json.RawMessage
	if err := c.Bind(&draft); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	e := models.Entity{
		ID:         uuid.New().String(),
		EntityType: c.Param("entityType"),
		Data:       draft,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	s.putEntityLocked(e)
	return c.JSON(http.StatusCreated, e)
}

func (s *Server) upsertEntity(c echo.Context) error {
	if s.failNow("upsert") {
		return failResponse(c, "upsert")
	}

	var draft json.RawMessage
	if err := c.Bind(&draft); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entityType, id := c.Param("entityType"), c.Param("id")
	now := time.Now().UTC()

	e, ok := s.entities[entityType][id]
	if !ok {
		e = models.Entity{ID: id, EntityType: entityType, CreatedAt: now}
	}
	e.Data = draft
	e.UpdatedAt = now
	s.putEntityLocked(e)
	return c.JSON(http.StatusOK, e)
}

func (s *Server) editEntity(c echo.Context) error {
	if s.failNow("edit") {
		return failResponse(c, "edit")
	}

	var partial json.RawMessage
	if err := c.Bind(&partial); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entityType, id := c.Param("entityType"), c.Param("id")
	e, ok := s.entities[entityType][id]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "entity not found"})
	}

	e.Data = mergeJSON(e.Data, partial)
	e.UpdatedAt = time.Now().UTC()
	s.putEntityLocked(e)
	return c.JSON(http.StatusOK, e)
}

func (s *Server) deleteEntity(c echo.Context) error {
	if s.failNow("delete") {
		return failResponse(c, "delete")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entityType, id := c.Param("entityType"), c.Param("id")
	if _, ok := s.entities[entityType][id]; !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "entity not found"})
	}
	delete(s.entities[entityType], id)

	for key := range s.mutuals {
		if (key.ByEntityType == entityType && key.ByEntityID == id) ||
			(key.EntityType == entityType && key.EntityID == id) {
			delete(s.mutuals, key)
		}
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) listMutuals(c echo.Context) error {
	if s.failNow("mutual.list") {
		return failResponse(c, "mutual.list")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	byEntityType := c.Param("byEntityType")
	entityType := c.Param("entityType")
	byEntityID := c.Param("byEntityID")
	chainQuery := c.QueryParam("chain_query")

	var hits []models.Mutual
	for key, m := range s.mutuals {
		if key.ByEntityType != byEntityType || key.ByEntityID != byEntityID || key.EntityType != entityType {
			continue
		}
		if chainQuery != "" && !containsFold(string(m.MutualData), chainQuery) {
			continue
		}
		if target, ok := s.entities[m.EntityType][m.EntityID]; ok {
			m.Data = target.Data
		}
		hits = append(hits, m)
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].EntityID < hits[j].EntityID })
	return c.JSON(http.StatusOK, models.MutualPage{Entities: hits})
}

func (s *Server) getMutual(c echo.Context) error {
	if s.failNow("mutual.get") {
		return failResponse(c, "mutual.get")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := paramMutualKey(c)
	m, ok := s.mutuals[key]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "mutual not found"})
	}
	if target, ok := s.entities[m.EntityType][m.EntityID]; ok {
		m.Data = target.Data
	}
	return c.JSON(http.StatusOK, m)
}

func (s *Server) createMutual(c echo.Context) error {
	if s.failNow("mutual.create") {
		return failResponse(c, "mutual.create")
	}

	var payload json.RawMessage
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := paramMutualKey(c)
	now := time.Now().UTC()
	m := models.Mutual{
		MutualID:        uuid.New().String(),
		ByEntityType:    key.ByEntityType,
		ByEntityID:      key.ByEntityID,
		EntityType:      key.EntityType,
		EntityID:        key.EntityID,
		MutualData:      payload,
		CreatedAt:       now,
		UpdatedAt:       now,
		MutualUpdatedAt: now,
	}
	if target, ok := s.entities[key.EntityType][key.EntityID]; ok {
		m.Data = target.Data
	}
	s.mutuals[key] = m
	return c.JSON(http.StatusCreated, m)
}

func (s *Server) editMutual(c echo.Context) error {
	if s.failNow("mutual.edit") {
		return failResponse(c, "mutual.edit")
	}

	var payload json.RawMessage
	if err := c.Bind(&payload); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"message": "invalid body"})
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := paramMutualKey(c)
	m, ok := s.mutuals[key]
	if !ok {
		return c.JSON(http.StatusNotFound, map[string]string{"message": "mutual not found"})
	}

	m.MutualData = mergeJSON(m.MutualData, payload)
	m.UpdatedAt = time.Now().UTC()
	m.MutualUpdatedAt = m.UpdatedAt
	s.mutuals[key] = m
	return c.JSON(http.StatusOK, m)
}

func (s *Server) deleteMutual(c echo.Context) error {
	if s.failNow("mutual.delete") {
		return failResponse(c, "mutual.delete")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := paramMutualKey(c)
	delete(s.mutuals, key)
	return c.JSON(http.StatusOK, models.DeleteMutualResult{
		EntityID:   key.EntityID,
		ByEntityID: key.ByEntityID,
	})
}

func paramMutualKey(c echo.Context) mutualKey {
	return mutualKey{
		ByEntityType: c.Param("byEntityType"),
		ByEntityID:   c.Param("byEntityID"),
		EntityType:   c.Param("entityType"),
		EntityID:     c.Param("entityID"),
	}
}

// mergeJSON applies a shallow merge of partial onto base. Non-object
// payloads replace the base wholesale.
func mergeJSON(base, partial json.RawMessage) json.RawMessage {
	var dst map[string]json.RawMessage
	if err := json.Unmarshal(base, &dst); err != nil || dst == nil {
		return partial
	}
	var src map[string]json.RawMessage
	if err := json.Unmarshal(partial, &src); err != nil || src == nil {
		return partial
	}
	for k, v := range src {
		dst[k] = v
	}
	merged, err := json.Marshal(dst)
	if err != nil {
		return partial
	}
	return merged
}
