package index

import (
	"context"
	"database/sql"
	"strings"
	"sync"

	rbt "github.com/emirpasic/gods/trees/redblacktree"
	godsutils "github.com/emirpasic/gods/utils"
	"github.com/tangramhq/tangram/internal/id"
	"github.com/tangramhq/tangram/internal/tgerror"
)

// RootNodeId is the tag tree's root, spec.md §3.4: "Root has id 0 and no
// parent."
const RootNodeId int64 = 0

// querier is satisfied by both *sql.DB and *sql.Tx, letting tag resolution
// run either inside a write transaction or directly against the pool for
// read-only lookups.
type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// tagCacheKey orders children by component ascending within a parent, the
// same ordering discipline go-git's plumbing/transport capability list
// keeps with emirpasic/gods' ordered map — reused here for "matches
// ordered by component ascending" (spec.md §4.2).
type tagCacheKey struct {
	parent    int64
	component string
}

func compareTagCacheKey(a, b any) int {
	ka, kb := a.(tagCacheKey), b.(tagCacheKey)
	if ka.parent != kb.parent {
		return godsutils.Int64Comparator(ka.parent, kb.parent)
	}
	return strings.Compare(ka.component, kb.component)
}

// tagTreeCache mirrors the persisted tag table in an ordered in-memory
// tree so repeated "children of node N in component order" lookups don't
// pay a sorted SQL scan every time; a parent's subtree is loaded on first
// access and the whole cache is dropped on any write, since tag writes are
// rare relative to resolver reads.
type tagTreeCache struct {
	mu     sync.Mutex
	tree   *rbt.Tree
	loaded map[int64]bool
}

func newTagTreeCache() *tagTreeCache {
	return &tagTreeCache{tree: rbt.NewWith(compareTagCacheKey), loaded: make(map[int64]bool)}
}

func (c *tagTreeCache) invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tree.Clear()
	c.loaded = make(map[int64]bool)
}

func (c *tagTreeCache) childrenOf(parent int64, load func() ([]TagNode, error)) ([]TagNode, error) {
	c.mu.Lock()
	if !c.loaded[parent] {
		c.mu.Unlock()
		fresh, err := load()
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		for _, n := range fresh {
			c.tree.Put(tagCacheKey{parent: parent, component: n.Component}, n)
		}
		c.loaded[parent] = true
	}
	defer c.mu.Unlock()

	var out []TagNode
	it := c.tree.Iterator()
	for it.Next() {
		key := it.Key().(tagCacheKey)
		if key.parent == parent {
			out = append(out, it.Value().(TagNode))
		}
	}
	return out, nil
}

// TagNode is one row of spec.md §3.4's tag tree.
type TagNode struct {
	NodeId     int64
	Parent     int64
	Component  string
	Item       *id.Id
	ChildCount int64
}

// PutTag inserts or updates the leaf node at the given path, creating
// intermediate nodes as needed. Per spec.md §4.2's "Failures", inserting
// under an existing leaf (a node whose item is already set) is a conflict.
func (idx *Index) PutTag(ctx context.Context, path []string, item id.Id) error {
	err := idx.withTx(ctx, func(tx *sql.Tx) error {
		parent := RootNodeId
		for i, component := range path {
			node, err := getOrCreateChild(ctx, tx, parent, component)
			if err != nil {
				return err
			}
			isLast := i == len(path)-1
			if !isLast && node.Item != nil {
				return tgerror.New(tgerror.Conflict, "tag path component %q is a leaf, cannot descend further", component)
			}
			if isLast {
				if node.ChildCount > 0 {
					return tgerror.New(tgerror.Conflict, "tag path component %q already has children, cannot become a leaf", component)
				}
				if _, err := tx.ExecContext(ctx, `UPDATE tags SET item = ? WHERE node_id = ?`, item.String(), node.NodeId); err != nil {
					return tgerror.Wrap(tgerror.IO, err, "setting tag item")
				}
			}
			parent = node.NodeId
		}
		return nil
	})
	idx.tagCache.invalidate()
	return err
}

func getOrCreateChild(ctx context.Context, tx *sql.Tx, parent int64, component string) (*TagNode, error) {
	row := tx.QueryRowContext(ctx, `SELECT node_id, item, child_count FROM tags WHERE parent_id = ? AND component = ?`, parent, component)
	var nodeId int64
	var item sql.NullString
	var childCount int64
	err := row.Scan(&nodeId, &item, &childCount)
	if err == nil {
		n := &TagNode{NodeId: nodeId, Parent: parent, Component: component, ChildCount: childCount}
		if item.Valid {
			iid, err := id.Parse(item.String)
			if err != nil {
				return nil, tgerror.Wrap(tgerror.Internal, err, "parsing tag item")
			}
			n.Item = &iid
		}
		return n, nil
	}
	if err != sql.ErrNoRows {
		return nil, tgerror.Wrap(tgerror.IO, err, "reading tag node")
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO tags (parent_id, component, child_count) VALUES (?, ?, 0)`, parent, component)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "creating tag node %q", component)
	}
	newId, err := res.LastInsertId()
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "reading new tag node id")
	}
	if _, err := tx.ExecContext(ctx, `UPDATE tags SET child_count = child_count + 1 WHERE node_id = ?`, parent); err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "incrementing child count of parent %d", parent)
	}
	return &TagNode{NodeId: newId, Parent: parent, Component: component}, nil
}

// DeleteTag removes the leaf at path and decrements its parent's
// child_count, per spec.md §3.4. A parent left with no children stays in
// the tree; no ancestor is removed.
func (idx *Index) DeleteTag(ctx context.Context, path []string) error {
	err := idx.withTx(ctx, func(tx *sql.Tx) error {
		nodeId, parent, err := resolveNodePath(ctx, tx, path)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM tags WHERE node_id = ?`, nodeId); err != nil {
			return tgerror.Wrap(tgerror.IO, err, "deleting tag node")
		}
		return decrementAndCollect(ctx, tx, parent)
	})
	idx.tagCache.invalidate()
	return err
}

func decrementAndCollect(ctx context.Context, tx *sql.Tx, nodeId int64) error {
	if nodeId == RootNodeId {
		_, err := tx.ExecContext(ctx, `UPDATE tags SET child_count = child_count - 1 WHERE node_id = ?`, nodeId)
		return err
	}
	var childCount int64
	var parent int64
	row := tx.QueryRowContext(ctx, `SELECT parent_id, child_count FROM tags WHERE node_id = ?`, nodeId)
	if err := row.Scan(&parent, &childCount); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "reading tag node %d", nodeId)
	}
	newCount := childCount - 1
	if _, err := tx.ExecContext(ctx, `UPDATE tags SET child_count = ? WHERE node_id = ?`, newCount, nodeId); err != nil {
		return tgerror.Wrap(tgerror.IO, err, "decrementing child count of %d", nodeId)
	}
	// Collectable per spec.md §3.4 once newCount reaches 0. A node at zero
	// stays in the tree: neither this function nor internal/gc removes it.
	return nil
}

func resolveNodePath(ctx context.Context, q querier, path []string) (nodeId, parent int64, err error) {
	parent = RootNodeId
	current := RootNodeId
	for _, component := range path {
		parent = current
		row := q.QueryRowContext(ctx, `SELECT node_id FROM tags WHERE parent_id = ? AND component = ?`, current, component)
		if err := row.Scan(&current); err != nil {
			if err == sql.ErrNoRows {
				return 0, 0, tgerror.New(tgerror.NotFound, "tag path component %q not found", component)
			}
			return 0, 0, tgerror.Wrap(tgerror.IO, err, "resolving tag path")
		}
	}
	return current, parent, nil
}

// ResolveTag finds the leaf node's item for an exact path, or NotFound.
func (idx *Index) ResolveTag(ctx context.Context, path []string) (id.Id, error) {
	nodeId, _, err := resolveNodePath(ctx, idx.db, path)
	if err != nil {
		return id.Id{}, err
	}
	row := idx.db.QueryRowContext(ctx, `SELECT item FROM tags WHERE node_id = ?`, nodeId)
	var item sql.NullString
	if err := row.Scan(&item); err != nil {
		return id.Id{}, tgerror.Wrap(tgerror.IO, err, "reading tag item")
	}
	if !item.Valid {
		return id.Id{}, tgerror.New(tgerror.NotFound, "tag path resolves to a non-leaf node")
	}
	return id.Parse(item.String)
}

// ListChildren returns immediate children of the node at path, ordered by
// component ascending (reverse inverts the order), per spec.md §4.2's
// tie-break rule. Ascending order is served from the in-memory ordered
// tree cache; reverse order re-queries since the cache is sorted only
// ascending.
func (idx *Index) ListChildren(ctx context.Context, path []string, reverse bool) ([]TagNode, error) {
	nodeId, _, err := resolveNodePath(ctx, idx.db, path)
	if err != nil {
		return nil, err
	}

	load := func() ([]TagNode, error) { return idx.queryChildren(ctx, nodeId, "ASC") }

	if reverse {
		return idx.queryChildren(ctx, nodeId, "DESC")
	}
	return idx.tagCache.childrenOf(nodeId, load)
}

func (idx *Index) queryChildren(ctx context.Context, nodeId int64, order string) ([]TagNode, error) {
	rows, err := idx.db.QueryContext(ctx, `SELECT node_id, component, item, child_count FROM tags WHERE parent_id = ? ORDER BY component `+order, nodeId)
	if err != nil {
		return nil, tgerror.Wrap(tgerror.IO, err, "listing tag children")
	}
	defer rows.Close()

	var out []TagNode
	for rows.Next() {
		var n TagNode
		var item sql.NullString
		if err := rows.Scan(&n.NodeId, &n.Component, &item, &n.ChildCount); err != nil {
			return nil, tgerror.Wrap(tgerror.IO, err, "scanning tag child")
		}
		n.Parent = nodeId
		if item.Valid {
			iid, err := id.Parse(item.String)
			if err != nil {
				return nil, tgerror.Wrap(tgerror.Internal, err, "parsing tag item")
			}
			n.Item = &iid
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
