// Package model defines the core domain models used throughout the application.
package model

// EntityType identifies which kind of catalog entity a value refers to.
type EntityType string

// Entity type constants.
const (
	EntityTypeNode    EntityType = "node"
	EntityTypeProduct EntityType = "product"
)

// CatalogNode is a category in the hierarchical catalog tree.
// Nodes are part of the read-only snapshot loaded at the start of a run;
// the engine never mutates them.
type CatalogNode struct {
	ID       string
	ParentID string // empty for roots
	Path     string // e.g. "/categories/outerwear/winter-boots"
	Depth    int
	ChildIDs []string
}

// IsRoot reports whether the node has no parent.
func (n *CatalogNode) IsRoot() bool {
	return n.ParentID == ""
}

// Product is a sellable item assigned to a category node.
type Product struct {
	ID         string
	URL        string
	GTIN       string // optional, digits may be separator-formatted
	CategoryID string
}
