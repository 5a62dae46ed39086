package expr

import (
	"github.com/jnarwell/trellis-sub000/pkg/errors"
	"github.com/jnarwell/trellis-sub000/pkg/models"
)

// DefaultMaxDepth bounds traversal and nested evaluation depth.
const DefaultMaxDepth = 50

// Context carries everything an evaluation needs. The evaluator never reads
// the database; entities and relationship mappings must be pre-loaded by the
// caller (the computation service batch-loads them).
type Context struct {
	TenantID string
	Current  *models.Entity
	MaxDepth int

	entities      map[string]*models.Entity
	relationships map[string]map[string][]string
	stack         map[string]bool
	accessed      map[string]bool
	depth         int
}

func NewContext(tenantID string, current *models.Entity) *Context {
	ctx := &Context{
		TenantID:      tenantID,
		Current:       current,
		MaxDepth:      DefaultMaxDepth,
		entities:      map[string]*models.Entity{},
		relationships: map[string]map[string][]string{},
		stack:         map[string]bool{},
		accessed:      map[string]bool{},
	}
	if current != nil {
		ctx.entities[current.ID] = current
	}
	return ctx
}

// AddEntity loads an entity into the evaluation cache.
func (c *Context) AddEntity(entity *models.Entity) {
	if entity != nil {
		c.entities[entity.ID] = entity
	}
}

// AddRelationship records that entityID has a relType edge to targetID.
func (c *Context) AddRelationship(entityID, relType, targetID string) {
	byType, ok := c.relationships[entityID]
	if !ok {
		byType = map[string][]string{}
		c.relationships[entityID] = byType
	}
	byType[relType] = append(byType[relType], targetID)
}

// Entity returns a cached entity and marks it accessed.
func (c *Context) Entity(id string) (*models.Entity, bool) {
	entity, ok := c.entities[id]
	if ok {
		c.accessed[id] = true
	}
	return entity, ok
}

// Related returns the cached targets of a relationship edge.
func (c *Context) Related(entityID, relType string) []string {
	byType, ok := c.relationships[entityID]
	if !ok {
		return nil
	}
	return byType[relType]
}

// PushEvaluation guards against re-entrant evaluation of the same computed
// property. Callers must pair it with PopEvaluation.
func (c *Context) PushEvaluation(entityID, property string) error {
	key := entityID + "." + property
	if c.stack[key] {
		return errors.Newf(errors.CodeCircularDependency, "circular dependency detected at %s", key).
			WithDetail("entity_id", entityID).
			WithDetail("property", property)
	}
	c.stack[key] = true
	return nil
}

func (c *Context) PopEvaluation(entityID, property string) {
	delete(c.stack, entityID+"."+property)
}

func (c *Context) enter() error {
	c.depth++
	if c.depth > c.MaxDepth {
		return errors.Newf(errors.CodeMaxDepthExceeded, "evaluation exceeded max depth %d", c.MaxDepth).
			WithDetail("max_depth", c.MaxDepth)
	}
	return nil
}

func (c *Context) leave() {
	c.depth--
}

// AccessedEntities lists every entity id touched during evaluation.
func (c *Context) AccessedEntities() []string {
	ids := make([]string, 0, len(c.accessed))
	for id := range c.accessed {
		ids = append(ids, id)
	}
	return ids
}
