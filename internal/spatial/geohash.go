package spatial

// Base32 encoding for geohash
const base32 = "0123456789bcdefghjkmnpqrstuvwxyz"

const maxGeohashPrecision = 12

// EncodeGeohash encodes a point into a geohash string
// precision: number of characters in the geohash (1-12)
func EncodeGeohash(p Point, precision int) string {
	if precision < 1 {
		precision = 1
	}
	if precision > maxGeohashPrecision {
		precision = maxGeohashPrecision
	}

	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}

	geohash := make([]byte, 0, precision)
	bits, bit, ch := 0, 0, 0

	for len(geohash) < precision {
		if bit%2 == 0 {
			mid := (lonRange[0] + lonRange[1]) / 2
			if p.Lon > mid {
				ch |= 1 << (4 - bits)
				lonRange[0] = mid
			} else {
				lonRange[1] = mid
			}
		} else {
			mid := (latRange[0] + latRange[1]) / 2
			if p.Lat > mid {
				ch |= 1 << (4 - bits)
				latRange[0] = mid
			} else {
				latRange[1] = mid
			}
		}

		bits++
		if bits == 5 {
			geohash = append(geohash, base32[ch])
			bits, ch = 0, 0
		}
		bit++
	}

	return string(geohash)
}

// GeohashBounds returns the bounding box of a geohash cell
func GeohashBounds(geohash string) BBox {
	latRange := [2]float64{-90.0, 90.0}
	lonRange := [2]float64{-180.0, 180.0}

	isLon := true
	for i := 0; i < len(geohash); i++ {
		idx := indexOfBase32(geohash[i])
		if idx == -1 {
			continue
		}

		for mask := 16; mask > 0; mask >>= 1 {
			if isLon {
				mid := (lonRange[0] + lonRange[1]) / 2
				if idx&mask != 0 {
					lonRange[0] = mid
				} else {
					lonRange[1] = mid
				}
			} else {
				mid := (latRange[0] + latRange[1]) / 2
				if idx&mask != 0 {
					latRange[0] = mid
				} else {
					latRange[1] = mid
				}
			}
			isLon = !isLon
		}
	}

	return BBox{MinLat: latRange[0], MinLon: lonRange[0], MaxLat: latRange[1], MaxLon: lonRange[1]}
}

// GeohashNeighbors returns the cell itself followed by its 8 neighbours.
// Cells at the poles may repeat.
func GeohashNeighbors(geohash string) []string {
	b := GeohashBounds(geohash)
	center := b.Center()
	latDelta := b.MaxLat - b.MinLat
	lonDelta := b.MaxLon - b.MinLon

	seen := make(map[string]struct{}, 9)
	cells := make([]string, 0, 9)
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			p := Point{
				Lat: center.Lat + float64(dLat)*latDelta,
				Lon: center.Lon + float64(dLon)*lonDelta,
			}
			if p.Lat > 90 {
				p.Lat = 90
			}
			if p.Lat < -90 {
				p.Lat = -90
			}
			if p.Lon > 180 {
				p.Lon -= 360
			}
			if p.Lon < -180 {
				p.Lon += 360
			}
			cell := EncodeGeohash(p, len(geohash))
			if _, ok := seen[cell]; ok {
				continue
			}
			seen[cell] = struct{}{}
			cells = append(cells, cell)
		}
	}
	return cells
}

// GeohashPrecisionForRadius returns the finest precision whose cells near p
// are at least radius meters wide and tall, so any point within radius of p
// falls in p's cell or one of its neighbours. Returns 0 when no precision
// qualifies.
func GeohashPrecisionForRadius(p Point, radius float64) int {
	for precision := maxGeohashPrecision; precision >= 1; precision-- {
		b := GeohashBounds(EncodeGeohash(p, precision))
		mid := b.Center()
		width := HaversineDistance(mid.Lat, b.MinLon, mid.Lat, b.MaxLon)
		height := HaversineDistance(b.MinLat, mid.Lon, b.MaxLat, mid.Lon)
		if width >= radius && height >= radius {
			return precision
		}
	}
	return 0
}

// indexOfBase32 finds the index of a character in the base32 alphabet
func indexOfBase32(ch byte) int {
	for i := 0; i < len(base32); i++ {
		if base32[i] == ch {
			return i
		}
	}
	return -1
}
