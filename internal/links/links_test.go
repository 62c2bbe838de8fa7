package links_test

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/rcliao/memory-bank/internal/links"
	"github.com/rcliao/memory-bank/internal/model"
	"github.com/rcliao/memory-bank/internal/store"
)

// harness builds a Manager and a function that makes a block exist.
type harness struct {
	name  string
	setup func(t *testing.T, opts links.Options) (links.Manager, func(id string))
}

func harnesses() []harness {
	return []harness{
		{name: "memory", setup: func(t *testing.T, opts links.Options) (links.Manager, func(string)) {
			var mu sync.Mutex
			known := map[string]bool{}
			exists := func(_ context.Context, id string) (bool, error) {
				mu.Lock()
				defer mu.Unlock()
				return known[id], nil
			}
			add := func(id string) {
				mu.Lock()
				defer mu.Unlock()
				known[id] = true
			}
			return links.NewMemory(exists, opts), add
		}},
		{name: "store", setup: func(t *testing.T, opts links.Options) (links.Manager, func(string)) {
			st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "links.db"), "")
			if err != nil {
				t.Fatalf("open store: %v", err)
			}
			t.Cleanup(func() { st.Close() })
			add := func(id string) {
				now := time.Now().UTC()
				_, err := st.CreateBlock(context.Background(), store.WriteParams{Block: &model.MemoryBlock{
					ID: id, Type: "task", SchemaVersion: 1,
					State: model.DefaultState, Visibility: model.DefaultVisibility,
					CreatedAt: now, UpdatedAt: now,
				}})
				if err != nil {
					t.Fatalf("create block: %v", err)
				}
			}
			return links.NewStoreManager(st, opts), add
		}},
	}
}

func TestManagerContract(t *testing.T) {
	ctx := context.Background()

	for _, h := range harnesses() {
		Convey("Given a "+h.name+" link manager with strict existence checks", t, func() {
			m, add := h.setup(t, links.Options{})
			a, b, c := model.NewBlockID(), model.NewBlockID(), model.NewBlockID()
			add(a)
			add(b)
			add(c)

			Convey("adding a link makes the source a backlink of the target", func() {
				So(m.AddLink(ctx, a, b, "depends_on"), ShouldBeNil)

				back, err := m.Backlinks(ctx, b)
				So(err, ShouldBeNil)
				So(back, ShouldResemble, []string{a})

				fwd, err := m.ForwardLinks(ctx, a)
				So(err, ShouldBeNil)
				So(fwd, ShouldResemble, []model.BlockLink{{ToID: b, Relation: "depends_on"}})

				Convey("and removing it drops the backlink", func() {
					So(m.RemoveLink(ctx, a, b, "depends_on"), ShouldBeNil)
					back, err := m.Backlinks(ctx, b)
					So(err, ShouldBeNil)
					So(back, ShouldBeEmpty)
				})
			})

			Convey("adding the same link twice stores it once", func() {
				So(m.AddLink(ctx, a, b, "depends_on"), ShouldBeNil)
				So(m.AddLink(ctx, a, b, "depends_on"), ShouldBeNil)
				fwd, _ := m.ForwardLinks(ctx, a)
				So(fwd, ShouldHaveLength, 1)
			})

			Convey("removing a link that does not exist succeeds", func() {
				So(m.RemoveLink(ctx, a, c, "mentions"), ShouldBeNil)
			})

			Convey("backlinks are deduplicated across relations", func() {
				So(m.AddLink(ctx, a, c, "depends_on"), ShouldBeNil)
				So(m.AddLink(ctx, a, c, "mentions"), ShouldBeNil)
				So(m.AddLink(ctx, b, c, "related_to"), ShouldBeNil)

				back, err := m.Backlinks(ctx, c)
				So(err, ShouldBeNil)
				So(back, ShouldHaveLength, 2)
				So(back, ShouldContain, a)
				So(back, ShouldContain, b)
			})

			Convey("a missing target is rejected", func() {
				err := m.AddLink(ctx, a, model.NewBlockID(), "depends_on")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})

			Convey("a malformed relation is rejected", func() {
				err := m.AddLink(ctx, a, b, "Depends On")
				So(errors.Is(err, model.ErrValidation), ShouldBeTrue)
			})

			Convey("replacing links sets the complete outgoing set", func() {
				So(m.AddLink(ctx, a, b, "depends_on"), ShouldBeNil)
				So(m.ReplaceLinks(ctx, a, []model.BlockLink{{ToID: c, Relation: "blocks"}}), ShouldBeNil)

				fwd, _ := m.ForwardLinks(ctx, a)
				So(fwd, ShouldResemble, []model.BlockLink{{ToID: c, Relation: "blocks"}})
				back, _ := m.Backlinks(ctx, b)
				So(back, ShouldBeEmpty)
			})

			Convey("a block linking to itself is among its own backlinks", func() {
				So(m.AddLink(ctx, a, a, "related_to"), ShouldBeNil)
				So(m.AddLink(ctx, b, a, "depends_on"), ShouldBeNil)
				back, err := m.Backlinks(ctx, a)
				So(err, ShouldBeNil)
				So(back, ShouldHaveLength, 2)
				So(back, ShouldContain, a)
				So(back, ShouldContain, b)
			})

			Convey("checking targets reports dangling links but accepts self links", func() {
				missing := model.NewBlockID()
				err := m.CheckTargets(ctx, a, []model.BlockLink{
					{ToID: a, Relation: "related_to"},
					{ToID: missing, Relation: "depends_on"},
				})
				var ve *model.ValidationError
				So(errors.As(err, &ve), ShouldBeTrue)
				So(ve.Fields, ShouldHaveLength, 1)
				So(ve.Fields[0].Field, ShouldEqual, "links[1].to_id")
			})
		})

		Convey("Given a "+h.name+" link manager that allows pending links", t, func() {
			m, add := h.setup(t, links.Options{AllowPending: true})
			a := model.NewBlockID()
			add(a)
			later := model.NewBlockID()

			Convey("a link to a block that does not exist yet is kept", func() {
				So(m.AddLink(ctx, a, later, "depends_on"), ShouldBeNil)
				back, _ := m.Backlinks(ctx, later)
				So(back, ShouldResemble, []string{a})
				So(m.CheckTargets(ctx, a, []model.BlockLink{{ToID: later, Relation: "depends_on"}}), ShouldBeNil)
			})

			Convey("the source must still exist", func() {
				err := m.AddLink(ctx, model.NewBlockID(), a, "depends_on")
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	}
}

func TestMemoryForget(t *testing.T) {
	Convey("Forgetting a block drops links from and to it", t, func() {
		ctx := context.Background()
		m := links.NewMemory(func(context.Context, string) (bool, error) { return true, nil }, links.Options{})
		So(m.AddLink(ctx, "a", "b", "depends_on"), ShouldBeNil)
		So(m.AddLink(ctx, "b", "c", "depends_on"), ShouldBeNil)

		So(m.Forget(ctx, "b"), ShouldBeNil)

		fwd, _ := m.ForwardLinks(ctx, "a")
		So(fwd, ShouldBeEmpty)
		back, _ := m.Backlinks(ctx, "c")
		So(back, ShouldBeEmpty)
	})
}
