package spatial

import (
	"time"

	"github.com/jengzang/geotrust/internal/models"
	"github.com/jengzang/geotrust/internal/spatial"
)

var t0 = time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)

// square returns a square ring of sideMeters centred on origin.
func square(origin spatial.Point, sideMeters float64) spatial.Polygon {
	proj := spatial.NewProjection(origin)
	h := sideMeters / 2
	return spatial.Polygon{
		proj.Inverse(-h, -h),
		proj.Inverse(h, -h),
		proj.Inverse(h, h),
		proj.Inverse(-h, h),
	}
}

func simpleRegion(id string, poly spatial.Polygon) models.Region {
	return models.Region{ID: id, Name: id, Kind: models.RegionKindSimple, Category: models.CategoryLandmark, Polygon: poly, IsActive: true}
}

func areaRegion(id string, poly spatial.Polygon, area *float64, category string) models.Region {
	return models.Region{ID: id, Name: id, Kind: models.RegionKindArea, Category: category, Polygon: poly, AreaSquareMeters: area, IsActive: true}
}

func readingAt(userID int64, p spatial.Point, at time.Time) models.Reading {
	return models.Reading{UserID: userID, SessionID: 1, Latitude: p.Lat, Longitude: p.Lon, Timestamp: at}
}

// offset moves origin by dx meters east and dy meters north.
func offset(origin spatial.Point, dx, dy float64) spatial.Point {
	return spatial.NewProjection(origin).Inverse(dx, dy)
}
