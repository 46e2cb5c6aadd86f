package catalog

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/shelfsync/shelfsync/internal/common"
	"github.com/shelfsync/shelfsync/internal/model"
	"github.com/shelfsync/shelfsync/internal/service"
)

// Index holds the read-only lookup structures for one sync run. It is built
// once, then shared by the matching workers and the aggregator without
// further synchronization.
type Index struct {
	nodes    map[string]*model.CatalogNode
	products map[string]*model.Product

	byURL   map[string]model.EntityKey // normalized URL -> entity
	byGTIN  map[string]string          // digit-only GTIN -> product id
	byPath  map[string]model.EntityKey // normalized path key -> entity
	byToken map[string]string          // embedded id/slug token -> product id
	slugs   map[string]model.EntityKey // trailing slug -> entity, for fuzzy matching

	depths      map[string]int // validated node depths, BFS from roots
	levels      [][]string     // node ids grouped by depth
	children    map[string][]string
	productsOf  map[string][]string
	quarantined map[string]bool

	validationErrors []model.TreeValidationError
}

var embeddedIDPattern = regexp.MustCompile(`(?:^|[-_/])(?:p|prod|product|sku)[-_]?(\d{3,})$`)

// BuildIndex constructs the run-scoped index from a catalog snapshot.
// Tree validation (cycle and orphaned-parent detection) happens here;
// malformed subtrees are quarantined, reported on the index, and excluded
// from aggregation. Validation problems never fail the build.
func BuildIndex(snapshot *service.Snapshot) (*Index, error) {
	if snapshot == nil || (len(snapshot.Nodes) == 0 && len(snapshot.Products) == 0) {
		return nil, fmt.Errorf("cannot build index: %w", common.ErrEmptySnapshot)
	}

	start := time.Now()

	idx := &Index{
		nodes:       make(map[string]*model.CatalogNode, len(snapshot.Nodes)),
		products:    make(map[string]*model.Product, len(snapshot.Products)),
		byURL:       make(map[string]model.EntityKey),
		byGTIN:      make(map[string]string),
		byPath:      make(map[string]model.EntityKey),
		byToken:     make(map[string]string),
		slugs:       make(map[string]model.EntityKey),
		depths:      make(map[string]int, len(snapshot.Nodes)),
		children:    make(map[string][]string),
		productsOf:  make(map[string][]string),
		quarantined: make(map[string]bool),
	}

	for i := range snapshot.Nodes {
		n := snapshot.Nodes[i]
		idx.nodes[n.ID] = &n
	}
	for i := range snapshot.Products {
		p := snapshot.Products[i]
		idx.products[p.ID] = &p
	}

	idx.validateTree()
	idx.buildNodeLookups(snapshot.BaseURL)
	idx.buildProductLookups()

	slog.Debug("Catalog index built",
		"nodes", len(idx.nodes),
		"products", len(idx.products),
		"quarantined", len(idx.quarantined),
		"validation_errors", len(idx.validationErrors),
		"duration", time.Since(start))

	return idx, nil
}

// validateTree computes node depths with a BFS from the roots and
// quarantines orphaned-parent and cycle subtrees. Depths from the snapshot
// are ignored; only the parent links are trusted.
func (idx *Index) validateTree() {
	for id, n := range idx.nodes {
		if n.ParentID != "" {
			if _, ok := idx.nodes[n.ParentID]; ok {
				idx.children[n.ParentID] = append(idx.children[n.ParentID], id)
			}
		}
	}

	// Level-order walk from the roots assigns depths to every well-formed node.
	var frontier []string
	for id, n := range idx.nodes {
		if n.IsRoot() {
			idx.depths[id] = 0
			frontier = append(frontier, id)
		}
	}
	depth := 0
	for len(frontier) > 0 {
		idx.levels = append(idx.levels, frontier)
		var next []string
		for _, id := range frontier {
			for _, childID := range idx.children[id] {
				if _, seen := idx.depths[childID]; !seen {
					idx.depths[childID] = depth + 1
					next = append(next, childID)
				}
			}
		}
		frontier = next
		depth++
	}

	// Anything the walk never reached is either hanging off a missing parent
	// or trapped in a parent-link cycle.
	for id, n := range idx.nodes {
		if _, reached := idx.depths[id]; reached || idx.quarantined[id] {
			continue
		}
		if _, parentExists := idx.nodes[n.ParentID]; !parentExists {
			affected := idx.quarantineSubtree(id)
			idx.validationErrors = append(idx.validationErrors, model.TreeValidationError{
				NodeID:      id,
				Reason:      model.ReasonOrphanedParent,
				AffectedIDs: affected,
			})
		}
	}
	for id := range idx.nodes {
		if _, reached := idx.depths[id]; reached || idx.quarantined[id] {
			continue
		}
		cycle := idx.findCycle(id)
		affected := make([]string, 0, len(cycle))
		for _, member := range cycle {
			affected = append(affected, idx.quarantineSubtree(member)...)
		}
		idx.validationErrors = append(idx.validationErrors, model.TreeValidationError{
			NodeID:      cycle[0],
			Reason:      model.ReasonCycle,
			AffectedIDs: affected,
		})
	}
}

// findCycle walks parent links from an unreached node until a repeat and
// returns the members of the cycle itself.
func (idx *Index) findCycle(start string) []string {
	order := []string{}
	seen := make(map[string]int)
	cur := start
	for {
		if pos, ok := seen[cur]; ok {
			return order[pos:]
		}
		seen[cur] = len(order)
		order = append(order, cur)
		next := idx.nodes[cur].ParentID
		if _, ok := idx.nodes[next]; !ok {
			// Chain drains into an orphan rather than a cycle; quarantine
			// from where we started.
			return []string{start}
		}
		cur = next
	}
}

// quarantineSubtree marks a node and all its not-yet-quarantined descendants
// and returns the affected ids.
func (idx *Index) quarantineSubtree(root string) []string {
	var affected []string
	frontier := []string{root}
	for len(frontier) > 0 {
		id := frontier[0]
		frontier = frontier[1:]
		if idx.quarantined[id] {
			continue
		}
		idx.quarantined[id] = true
		affected = append(affected, id)
		frontier = append(frontier, idx.children[id]...)
	}
	return affected
}

func (idx *Index) buildNodeLookups(baseURL string) {
	base := ""
	if baseURL != "" {
		base = strings.TrimSuffix(NormalizeURL(baseURL), "/")
	}

	for id, n := range idx.nodes {
		segments := NormalizePath(n.Path)
		if len(segments) == 0 {
			continue
		}
		key := model.EntityKey{Type: model.EntityTypeNode, ID: id}
		idx.byPath[PathKey(segments)] = key
		idx.slugs[segments[len(segments)-1]] = key
		if base != "" {
			idx.byURL[base+"/"+PathKey(segments)] = key
		}
	}
}

func (idx *Index) buildProductLookups() {
	for id, p := range idx.products {
		key := model.EntityKey{Type: model.EntityTypeProduct, ID: id}

		if p.CategoryID != "" {
			if _, ok := idx.nodes[p.CategoryID]; ok {
				idx.productsOf[p.CategoryID] = append(idx.productsOf[p.CategoryID], id)
			}
		}

		if p.GTIN != "" {
			if digits := NormalizeGTIN(p.GTIN); digits != "" {
				idx.byGTIN[digits] = id
			}
		}

		if p.URL == "" {
			continue
		}
		idx.byURL[NormalizeURL(p.URL)] = key
		segments := NormalizePath(p.URL)
		if len(segments) == 0 {
			continue
		}
		idx.byPath[PathKey(segments)] = key

		slug := segments[len(segments)-1]
		idx.slugs[slug] = key
		idx.byToken[slug] = id
		if m := embeddedIDPattern.FindStringSubmatch(slug); m != nil {
			idx.byToken[m[1]] = id
		}
	}
}

// EntityByURL looks up an entity by its normalized URL.
func (idx *Index) EntityByURL(normalized string) (model.EntityKey, bool) {
	key, ok := idx.byURL[normalized]
	return key, ok
}

// ProductByGTIN looks up a product by digit-only GTIN.
func (idx *Index) ProductByGTIN(digits string) (string, bool) {
	id, ok := idx.byGTIN[digits]
	return id, ok
}

// EntityByPath looks up an entity by its normalized path key, ignoring
// whatever domain the record came from.
func (idx *Index) EntityByPath(pathKey string) (model.EntityKey, bool) {
	key, ok := idx.byPath[pathKey]
	return key, ok
}

// ProductByToken looks up a product by an embedded identifier token
// (slug or numeric id extracted from a URL).
func (idx *Index) ProductByToken(token string) (string, bool) {
	id, ok := idx.byToken[token]
	return id, ok
}

// LongestPrefixNode finds the deepest node whose path is a prefix of the
// given segments. Returns the node id and the prefix length.
func (idx *Index) LongestPrefixNode(segments []string) (string, int, bool) {
	for l := len(segments); l > 0; l-- {
		if key, ok := idx.byPath[PathKey(segments[:l])]; ok && key.Type == model.EntityTypeNode {
			return key.ID, l, true
		}
	}
	return "", 0, false
}

// Slugs exposes the trailing-slug lookup table for the fuzzy strategy.
func (idx *Index) Slugs() map[string]model.EntityKey {
	return idx.slugs
}

// Node returns a node by id.
func (idx *Index) Node(id string) (*model.CatalogNode, bool) {
	n, ok := idx.nodes[id]
	return n, ok
}

// Product returns a product by id.
func (idx *Index) Product(id string) (*model.Product, bool) {
	p, ok := idx.products[id]
	return p, ok
}

// Levels returns node ids grouped by validated depth, shallowest first.
// Quarantined nodes never appear.
func (idx *Index) Levels() [][]string {
	return idx.levels
}

// Children returns the validated direct child nodes of a node.
func (idx *Index) Children(id string) []string {
	var out []string
	for _, childID := range idx.children[id] {
		if !idx.quarantined[childID] {
			out = append(out, childID)
		}
	}
	return out
}

// ProductsOf returns the products assigned to a node.
func (idx *Index) ProductsOf(id string) []string {
	return idx.productsOf[id]
}

// ParentOf returns the validated parent of a node, if any.
func (idx *Index) ParentOf(id string) (string, bool) {
	n, ok := idx.nodes[id]
	if !ok || n.ParentID == "" {
		return "", false
	}
	if _, exists := idx.nodes[n.ParentID]; !exists {
		return "", false
	}
	if idx.quarantined[n.ParentID] {
		return "", false
	}
	return n.ParentID, true
}

// IsQuarantined reports whether a node sits in a malformed subtree.
func (idx *Index) IsQuarantined(id string) bool {
	return idx.quarantined[id]
}

// ValidationErrors returns the tree problems found during the build.
func (idx *Index) ValidationErrors() []model.TreeValidationError {
	return idx.validationErrors
}

// NodeCount returns the number of nodes in the snapshot.
func (idx *Index) NodeCount() int { return len(idx.nodes) }

// ProductCount returns the number of products in the snapshot.
func (idx *Index) ProductCount() int { return len(idx.products) }
