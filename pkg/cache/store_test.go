package cache

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sepich/project-image-cache/pkg/model"
	"github.com/sepich/project-image-cache/pkg/objectstore/objectstoretest"
	"github.com/sepich/project-image-cache/pkg/persist"
	"github.com/sepich/project-image-cache/pkg/resolver"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func numbered(prefix string, ordinals ...int) []string {
	var out []string
	for _, n := range ordinals {
		out = append(out, fmt.Sprintf("%s/%d.jpg", prefix, n))
	}
	return out
}

func newTestStore(t *testing.T, store *objectstoretest.Fake, opts Options) (*Store, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	if opts.Now == nil {
		opts.Now = c.Now
	}
	opts.Resolver = resolver.Options{RetryBackoff: time.Millisecond, ListRetries: 0}
	s, err := New(context.Background(), model.DefaultCatalog(), store, opts)
	require.NoError(t, err)
	return s, c
}

func TestLoadProjectEmptyPrefix(t *testing.T) {
	s, _ := newTestStore(t, objectstoretest.New(), Options{})

	images := s.LoadProject(context.Background(), "VW_VANS")
	assert.NotNil(t, images)
	assert.Empty(t, images)
	assert.Empty(t, s.LastError())
}

func TestLoadProjectOrderedAndCached(t *testing.T) {
	store := objectstoretest.New(append(numbered("STUDIO", 3, 1, 12), "STUDIO/2.JPEG", "STUDIO/notes.txt")...)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()

	first := s.LoadProject(ctx, "STUDIO")
	assert.Equal(t, []string{
		"https://storage.test/projects/STUDIO/1.jpg",
		"https://storage.test/projects/STUDIO/2.JPEG",
		"https://storage.test/projects/STUDIO/3.jpg",
		"https://storage.test/projects/STUDIO/12.jpg",
	}, first)

	second := s.Load(ctx, "STUDIO")
	assert.True(t, second.Cached)
	assert.Equal(t, first, second.Images)
	assert.Equal(t, 1, store.ListCalls("STUDIO"))
	assert.Equal(t, first, s.GetProjectImages("STUDIO"))
}

func TestLoadProjectTTL(t *testing.T) {
	store := objectstoretest.New(numbered("STUDIO", 1)...)
	s, c := newTestStore(t, store, Options{})
	ctx := context.Background()

	s.LoadProject(ctx, "STUDIO")
	c.Advance(29 * time.Minute)
	s.LoadProject(ctx, "STUDIO")
	assert.Equal(t, 1, store.ListCalls("STUDIO"))

	c.Advance(time.Minute)
	s.LoadProject(ctx, "STUDIO")
	assert.Equal(t, 2, store.ListCalls("STUDIO"))
}

func TestClearProjectCacheForcesReload(t *testing.T) {
	store := objectstoretest.New(append(numbered("STUDIO", 1), numbered("ALI_WOOD", 1)...)...)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()

	s.LoadProject(ctx, "STUDIO")
	s.LoadProject(ctx, "ALI_WOOD")

	s.ClearProjectCache(ctx, "STUDIO")
	// images survive, only freshness is dropped
	assert.Len(t, s.GetProjectImages("STUDIO"), 1)
	s.LoadProject(ctx, "STUDIO")
	s.LoadProject(ctx, "ALI_WOOD")
	assert.Equal(t, 2, store.ListCalls("STUDIO"))
	assert.Equal(t, 1, store.ListCalls("ALI_WOOD"))

	s.ClearProjectCache(ctx, "")
	s.LoadProject(ctx, "STUDIO")
	s.LoadProject(ctx, "ALI_WOOD")
	assert.Equal(t, 3, store.ListCalls("STUDIO"))
	assert.Equal(t, 2, store.ListCalls("ALI_WOOD"))
}

func TestCasaMalibuMissingImages(t *testing.T) {
	var ordinals []int
	for i := 1; i <= 19; i++ {
		ordinals = append(ordinals, i)
	}
	s, _ := newTestStore(t, objectstoretest.New(numbered("CASA_MALIBU", ordinals...)...), Options{})

	s.LoadProject(context.Background(), "CASA_MALIBU")
	assert.Len(t, s.GetProjectImages("CASA_MALIBU"), 19)

	progress, ok := s.GetProjectProgress("CASA_MALIBU")
	require.True(t, ok)
	assert.Equal(t, model.ProgressRecord{Project: "CASA_MALIBU", Loaded: 19, Total: 19}, progress)
	assert.False(t, s.IsProjectLoading("CASA_MALIBU"))
}

func TestListingFailureRecoversLater(t *testing.T) {
	store := objectstoretest.New(numbered("MOCHILAS", 1, 2)...)
	store.SetFailList(true)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()

	res := s.Load(ctx, "MOCHILAS")
	assert.Empty(t, res.Images)
	assert.Error(t, res.Err)
	assert.NotEmpty(t, s.LastError())
	assert.False(t, s.IsProjectLoading("MOCHILAS"))

	store.SetFailList(false)
	images := s.LoadProject(ctx, "MOCHILAS")
	assert.Len(t, images, 2)
	assert.Empty(t, s.LastError())
}

func TestUnknownProject(t *testing.T) {
	s, _ := newTestStore(t, objectstoretest.New(), Options{})

	res := s.Load(context.Background(), "ATLANTIS")
	assert.Empty(t, res.Images)
	assert.ErrorIs(t, res.Err, model.ErrUnknownProject)
	assert.Contains(t, s.LastError(), "ATLANTIS")

	out := s.UploadProjectImage(context.Background(), "ATLANTIS", ImageFile{Name: "a.jpg", Body: strings.NewReader("x")}, 1)
	assert.False(t, out.Success)
	assert.Contains(t, out.Error, "unknown project")
}

func TestConcurrentLoadsShareOneListing(t *testing.T) {
	store := objectstoretest.New(numbered("SAND_CASTLE", 1, 2, 3)...)
	store.ListGate = make(chan struct{})
	store.ListStarted = make(chan string, 4)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()

	results := make([][]string, 2)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		results[0] = s.LoadProject(ctx, "SAND_CASTLE")
	}()
	<-store.ListStarted
	assert.True(t, s.IsProjectLoading("SAND_CASTLE"))

	wg.Add(1)
	go func() {
		defer wg.Done()
		results[1] = s.LoadProject(ctx, "SAND_CASTLE")
	}()
	close(store.ListGate)
	wg.Wait()

	assert.Equal(t, 1, store.ListCalls("SAND_CASTLE"))
	assert.Len(t, results[0], 3)
	assert.Equal(t, results[0], results[1])
	assert.False(t, s.IsProjectLoading("SAND_CASTLE"))
}

func TestCancelledCallerStillCommits(t *testing.T) {
	store := objectstoretest.New(numbered("STUDIO", 1)...)
	store.ListGate = make(chan struct{})
	store.ListStarted = make(chan string, 1)
	s, _ := newTestStore(t, store, Options{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan LoadResult)
	go func() { done <- s.Load(ctx, "STUDIO") }()
	<-store.ListStarted
	cancel()
	res := <-done
	assert.ErrorIs(t, res.Err, context.Canceled)
	assert.Empty(t, res.Images)

	close(store.ListGate)
	assert.Eventually(t, func() bool {
		return len(s.GetProjectImages("STUDIO")) == 1 && !s.IsProjectLoading("STUDIO")
	}, time.Second, 5*time.Millisecond)
}

func TestUploadProjectImage(t *testing.T) {
	store := objectstoretest.New(append(numbered("FISHING_LODGE", 1, 2), "FISHING_LODGE/3.JPG")...)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()

	assert.Len(t, s.LoadProject(ctx, "FISHING_LODGE"), 3)

	out := s.UploadProjectImage(ctx, "FISHING_LODGE", ImageFile{Name: "Sunset.JPEG", Body: strings.NewReader("img")}, 3)
	require.True(t, out.Success, out.Error)
	// initial load, replaced-image scan, reload
	assert.Equal(t, 3, store.ListCalls("FISHING_LODGE"))

	images := s.GetProjectImages("FISHING_LODGE")
	assert.Equal(t, []string{
		"https://storage.test/projects/FISHING_LODGE/1.jpg",
		"https://storage.test/projects/FISHING_LODGE/2.jpg",
		"https://storage.test/projects/FISHING_LODGE/3.jpeg",
	}, images)
	assert.False(t, store.Has("FISHING_LODGE/3.JPG"))

	out = s.UploadProjectImage(ctx, "FISHING_LODGE", ImageFile{Name: "new", Body: strings.NewReader("img")}, 7)
	require.True(t, out.Success)
	assert.True(t, store.Has("FISHING_LODGE/7.jpg"))
	assert.Len(t, s.GetProjectImages("FISHING_LODGE"), 4)
}

func TestUploadFailureLeavesCacheUntouched(t *testing.T) {
	store := objectstoretest.New(numbered("STUDIO", 1)...)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()
	s.LoadProject(ctx, "STUDIO")

	store.FailUpload = true
	out := s.UploadProjectImage(ctx, "STUDIO", ImageFile{Name: "2.jpg", Body: strings.NewReader("img")}, 2)
	assert.False(t, out.Success)
	assert.Equal(t, objectstoretest.ErrInjected.Error(), out.Error)

	res := s.Load(ctx, "STUDIO")
	assert.True(t, res.Cached)
	assert.Equal(t, 1, store.ListCalls("STUDIO"))

	out = s.UploadProjectImage(ctx, "STUDIO", ImageFile{Name: "2.jpg", Body: strings.NewReader("img")}, 0)
	assert.Contains(t, out.Error, "invalid ordinal")
}

func TestDeleteProjectImage(t *testing.T) {
	store := objectstoretest.New(append(numbered("CHATEAU_MARMOT", 1, 2), "CHATEAU_MARMOT/3.JPEG")...)
	s, _ := newTestStore(t, store, Options{})
	ctx := context.Background()
	s.LoadProject(ctx, "CHATEAU_MARMOT")

	out := s.DeleteProjectImage(ctx, "CHATEAU_MARMOT", 3)
	require.True(t, out.Success, out.Error)
	assert.False(t, store.Has("CHATEAU_MARMOT/3.JPEG"))
	assert.Len(t, s.GetProjectImages("CHATEAU_MARMOT"), 2)

	out = s.DeleteProjectImage(ctx, "CHATEAU_MARMOT", 3)
	assert.Equal(t, model.ErrImageNotFound.Error(), out.Error)
}

func TestPersistedStateSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	p := &persist.FilePersister{Directory: t.TempDir()}
	store := objectstoretest.New(numbered("SEATTLE_HOUSE", 1, 2)...)

	first, c := newTestStore(t, store, Options{Persister: p})
	first.LoadProject(ctx, "SEATTLE_HOUSE")

	state, err := p.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, state.Images["SEATTLE_HOUSE"], 2)
	assert.Equal(t, c.Now(), state.ProjectCache["SEATTLE_HOUSE"].Timestamp)

	second, err := New(ctx, model.DefaultCatalog(), store, Options{Persister: p, Now: c.Now})
	require.NoError(t, err)
	assert.Len(t, second.GetProjectImages("SEATTLE_HOUSE"), 2)
	assert.False(t, second.IsProjectLoading("SEATTLE_HOUSE"))
	_, ok := second.GetProjectProgress("SEATTLE_HOUSE")
	assert.False(t, ok)

	assert.True(t, second.Load(ctx, "SEATTLE_HOUSE").Cached)
	assert.Equal(t, 1, store.ListCalls("SEATTLE_HOUSE"))

	second.ClearProjectCache(ctx, "SEATTLE_HOUSE")
	state, err = p.Load(ctx)
	require.NoError(t, err)
	assert.NotContains(t, state.ProjectCache, "SEATTLE_HOUSE")
	assert.Len(t, state.Images["SEATTLE_HOUSE"], 2)
}

func TestRestoreDropsUnknownProjects(t *testing.T) {
	ctx := context.Background()
	p := &persist.FilePersister{Directory: t.TempDir()}
	state := persist.NewState()
	state.Images["GONE"] = []string{"https://storage.test/GONE/1.jpg"}
	state.ProjectCache["GONE"] = model.CacheRecord{Timestamp: time.Now()}
	require.NoError(t, p.Save(ctx, state))

	s, err := New(ctx, model.DefaultCatalog(), objectstoretest.New(), Options{Persister: p})
	require.NoError(t, err)
	assert.Empty(t, s.GetProjectImages("GONE"))
}

func TestLoadAll(t *testing.T) {
	store := objectstoretest.New(append(numbered("STUDIO", 1, 2), numbered("VW_VANS", 5)...)...)
	s, _ := newTestStore(t, store, Options{})

	all := s.LoadAll(context.Background())
	assert.Len(t, all, len(model.DefaultCatalog().Projects()))
	assert.Len(t, all["STUDIO"], 2)
	assert.Len(t, all["VW_VANS"], 1)
	assert.Empty(t, all["BUENOS_AIRES"])
}

func TestExt(t *testing.T) {
	assert.Equal(t, "jpeg", Ext("IMG_0001.JPEG"))
	assert.Equal(t, "png", Ext("a.b.png"))
	assert.Equal(t, "jpg", Ext("blob"))
}
