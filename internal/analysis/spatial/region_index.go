package spatial

import (
	"encoding/json"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/golang/geo/s2"
	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Cell levels used to cover region bounding boxes. Level 3 cells are roughly
// 1000 km across, level 14 cells roughly 600 m.
const (
	coverMinLevel = 3
	coverMaxLevel = 14
	coverMaxCells = 8
)

var coverer = &s2.RegionCoverer{
	MinLevel: coverMinLevel,
	MaxLevel: coverMaxLevel,
	LevelMod: 1,
	MaxCells: coverMaxCells,
}

// RegionLoadError reports a region excluded from the index
type RegionLoadError struct {
	RegionID string
	Err      error
}

// MarshalJSON renders the error as its message
func (e RegionLoadError) MarshalJSON() ([]byte, error) {
	msg := ""
	if e.Err != nil {
		msg = e.Err.Error()
	}
	return json.Marshal(struct {
		RegionID string `json:"region_id"`
		Error    string `json:"error"`
	}{e.RegionID, msg})
}

// LoadReport summarises a snapshot build
type LoadReport struct {
	Loaded   int               `json:"loaded"`
	Inactive int               `json:"inactive"`
	Rejected []RegionLoadError `json:"rejected,omitempty"`
}

type indexedRegion struct {
	region models.Region
	ring   spatial.Polygon
	bbox   spatial.BBox
}

type cellEntry struct {
	cell s2.CellID
	idx  int
}

// regionSnapshot is immutable once published.
type regionSnapshot struct {
	version uint64
	regions []indexedRegion
	byID    map[string]int
	cells   []cellEntry // sorted by cell
}

// RegionIndex answers containment and intersection queries over the active
// region set. Readers load the current snapshot without locking; writers
// build a complete new snapshot and swap it in.
type RegionIndex struct {
	snap atomic.Pointer[regionSnapshot]
	mu   sync.Mutex // serialises writers
}

// NewRegionIndex creates an empty index
func NewRegionIndex() *RegionIndex {
	idx := &RegionIndex{}
	idx.snap.Store(&regionSnapshot{byID: map[string]int{}})
	return idx
}

// PrepareRegion validates the polygon and fills derived fields. It returns an
// error wrapping spatial.ErrInvalidGeometry for unusable geometry.
func PrepareRegion(r models.Region) (models.Region, error) {
	if r.ID == "" {
		return r, eris.Wrap(spatial.ErrInvalidGeometry, "region has no id")
	}
	if err := r.Polygon.Validate(); err != nil {
		return r, eris.Wrapf(err, "region %s", r.ID)
	}
	r.Polygon = r.Polygon.Normalize()
	if r.Kind == "" {
		r.Kind = models.RegionKindSimple
	}
	if r.Centroid == (spatial.Point{}) {
		r.Centroid = spatial.PolygonCentroid(r.Polygon)
	}
	return r, nil
}

// Reload replaces the whole region set. Invalid regions are reported and
// excluded; inactive regions are skipped.
func (x *RegionIndex) Reload(regions []models.Region) LoadReport {
	x.mu.Lock()
	defer x.mu.Unlock()

	snap, report := buildSnapshot(x.snap.Load().version+1, regions)
	x.snap.Store(snap)

	zap.L().Info("region index reloaded",
		zap.Uint64("version", snap.version),
		zap.Int("loaded", report.Loaded),
		zap.Int("inactive", report.Inactive),
		zap.Int("rejected", len(report.Rejected)),
	)
	return report
}

// Upsert adds or replaces a single region. An inactive region is removed.
func (x *RegionIndex) Upsert(r models.Region) error {
	prepared, err := PrepareRegion(r)
	if err != nil {
		return err
	}

	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	next := make([]models.Region, 0, len(cur.regions)+1)
	for _, ir := range cur.regions {
		if ir.region.ID != prepared.ID {
			next = append(next, ir.region)
		}
	}
	next = append(next, prepared)

	snap, _ := buildSnapshot(cur.version+1, next)
	x.snap.Store(snap)
	return nil
}

// Remove drops a region, reporting whether it was present
func (x *RegionIndex) Remove(id string) bool {
	x.mu.Lock()
	defer x.mu.Unlock()

	cur := x.snap.Load()
	if _, ok := cur.byID[id]; !ok {
		return false
	}
	next := make([]models.Region, 0, len(cur.regions))
	for _, ir := range cur.regions {
		if ir.region.ID != id {
			next = append(next, ir.region)
		}
	}
	snap, _ := buildSnapshot(cur.version+1, next)
	x.snap.Store(snap)
	return true
}

// Version increments on every published snapshot
func (x *RegionIndex) Version() uint64 {
	return x.snap.Load().version
}

// Len returns the number of active regions
func (x *RegionIndex) Len() int {
	return len(x.snap.Load().regions)
}

// Regions returns all active regions
func (x *RegionIndex) Regions() []models.Region {
	snap := x.snap.Load()
	out := make([]models.Region, len(snap.regions))
	for i, ir := range snap.regions {
		out[i] = ir.region
	}
	return out
}

// Get returns an active region by id
func (x *RegionIndex) Get(id string) (models.Region, bool) {
	snap := x.snap.Load()
	i, ok := snap.byID[id]
	if !ok {
		return models.Region{}, false
	}
	return snap.regions[i].region, true
}

// Contains reports whether the active region id contains p
func (x *RegionIndex) Contains(id string, p spatial.Point) bool {
	snap := x.snap.Load()
	i, ok := snap.byID[id]
	if !ok {
		return false
	}
	ir := snap.regions[i]
	return ir.bbox.Contains(p) && spatial.Contains(ir.ring, p)
}

// Containing returns every active region containing p, in catalog order
func (x *RegionIndex) Containing(p spatial.Point) []models.Region {
	if !p.Valid() {
		return nil
	}
	snap := x.snap.Load()

	leaf := s2.CellIDFromLatLng(s2.LatLngFromDegrees(p.Lat, p.Lon))
	seen := make(map[int]struct{})
	for level := coverMinLevel; level <= coverMaxLevel; level++ {
		snap.lookup(leaf.Parent(level), func(idx int) {
			seen[idx] = struct{}{}
		})
	}

	var out []models.Region
	for _, idx := range sortedKeys(seen) {
		ir := snap.regions[idx]
		if ir.bbox.Contains(p) && spatial.Contains(ir.ring, p) {
			out = append(out, ir.region)
		}
	}
	return out
}

// AreasIntersecting returns the active area regions touched by the polyline
func (x *RegionIndex) AreasIntersecting(line []spatial.Point) []models.Region {
	if len(line) == 0 {
		return nil
	}
	snap := x.snap.Load()
	lineBox := spatial.BoundingBox(line)

	seen := make(map[int]struct{})
	for _, qc := range coverer.Covering(bboxRect(lineBox)) {
		for level := coverMinLevel; level < qc.Level(); level++ {
			snap.lookup(qc.Parent(level), func(idx int) { seen[idx] = struct{}{} })
		}
		snap.lookupRange(qc.RangeMin(), qc.RangeMax(), func(idx int) { seen[idx] = struct{}{} })
	}

	var out []models.Region
	for _, idx := range sortedKeys(seen) {
		ir := snap.regions[idx]
		if !ir.region.IsArea() || !ir.bbox.Intersects(lineBox) {
			continue
		}
		if spatial.LineIntersects(line, ir.ring) {
			out = append(out, ir.region)
		}
	}
	return out
}

// CheckContainment filters an explicit region list down to the active
// regions containing p.
func CheckContainment(p spatial.Point, regions []models.Region) []models.Region {
	var out []models.Region
	for _, r := range regions {
		if r.IsActive && spatial.Contains(r.Polygon, p) {
			out = append(out, r)
		}
	}
	return out
}

func buildSnapshot(version uint64, regions []models.Region) (*regionSnapshot, LoadReport) {
	snap := &regionSnapshot{
		version: version,
		byID:    make(map[string]int, len(regions)),
	}
	var report LoadReport

	for _, r := range regions {
		if !r.IsActive {
			report.Inactive++
			continue
		}
		prepared, err := PrepareRegion(r)
		if err != nil {
			zap.L().Warn("region excluded from index", zap.String("region_id", r.ID), zap.Error(err))
			report.Rejected = append(report.Rejected, RegionLoadError{RegionID: r.ID, Err: err})
			continue
		}
		if _, dup := snap.byID[prepared.ID]; dup {
			err := eris.Errorf("duplicate region id %s", prepared.ID)
			report.Rejected = append(report.Rejected, RegionLoadError{RegionID: r.ID, Err: err})
			continue
		}

		idx := len(snap.regions)
		ir := indexedRegion{region: prepared, ring: prepared.Polygon, bbox: prepared.Polygon.BBox()}
		snap.regions = append(snap.regions, ir)
		snap.byID[prepared.ID] = idx
		for _, c := range coverer.Covering(bboxRect(ir.bbox)) {
			snap.cells = append(snap.cells, cellEntry{cell: c, idx: idx})
		}
		report.Loaded++
	}

	sort.Slice(snap.cells, func(i, j int) bool {
		if snap.cells[i].cell == snap.cells[j].cell {
			return snap.cells[i].idx < snap.cells[j].idx
		}
		return snap.cells[i].cell < snap.cells[j].cell
	})
	return snap, report
}

func (s *regionSnapshot) lookup(cell s2.CellID, fn func(int)) {
	s.lookupRange(cell, cell, fn)
}

func (s *regionSnapshot) lookupRange(lo, hi s2.CellID, fn func(int)) {
	i := sort.Search(len(s.cells), func(i int) bool { return s.cells[i].cell >= lo })
	for ; i < len(s.cells) && s.cells[i].cell <= hi; i++ {
		fn(s.cells[i].idx)
	}
}

func bboxRect(b spatial.BBox) s2.Rect {
	return s2.RectFromLatLng(s2.LatLngFromDegrees(b.MinLat, b.MinLon)).
		AddPoint(s2.LatLngFromDegrees(b.MaxLat, b.MaxLon))
}

func sortedKeys(m map[int]struct{}) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
