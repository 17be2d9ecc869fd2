// Converts Natural-Earth-style shapefiles to slim GeoJSON for the dashboard
// basemap. Keeps a whitelist of attributes and rounds coordinates; at three
// decimals (~110 m) a world coastline shrinks to a fraction of the faithful
// conversion.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math"
	"os"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

func main() {
	inputPath := flag.String("input", "", "Path to input .shp file")
	outputPath := flag.String("output", "", "Path to output .geojson file")
	precision := flag.Int("precision", 3, "Coordinate decimal places (0 keeps full precision)")
	keep := flag.String("keep", "NAME,FEATURECLA,ISO_A2", "Comma-separated attribute whitelist (empty keeps everything)")
	flag.Parse()

	if *inputPath == "" || *outputPath == "" {
		flag.Usage()
		log.Fatal("Input and output paths are required")
	}

	if err := run(*inputPath, *outputPath, *precision, parseKeep(*keep)); err != nil {
		log.Fatal(err)
	}
}

func parseKeep(s string) []string {
	var keys []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			keys = append(keys, part)
		}
	}
	return keys
}

func run(inputPath, outputPath string, precision int, keep []string) error {
	// Open Shapefile
	shape, err := shp.Open(inputPath)
	if err != nil {
		return fmt.Errorf("failed to open shapefile: %w", err)
	}
	defer shape.Close()

	// Prepare fields
	fields := shape.Fields()
	fieldNames := make([]string, len(fields))
	for i, f := range fields {
		fieldNames[i] = f.String()
	}

	fc := geojson.NewFeatureCollection()

	// iterate through all shapes
	for shape.Next() {
		n, p := shape.Shape()

		var geometry orb.Geometry

		switch s := p.(type) {
		case *shp.Null:
			continue
		case *shp.PolyLine:
			geometry = convertPolyLine(s, precision)
		case *shp.Polygon:
			geometry = convertPolygon(s, precision)
		case *shp.Point:
			geometry = orb.Point{round(s.X, precision), round(s.Y, precision)}
		default:
			log.Printf("Skipping unsupported shape type: %T", p)
			continue
		}

		f := geojson.NewFeature(geometry)

		// Read attributes
		attrs := make(map[string]string, len(fieldNames))
		for i, name := range fieldNames {
			attrs[name] = shape.ReadAttribute(n, i)
		}
		for key, val := range selectAttributes(attrs, keep) {
			f.Properties[key] = val
		}

		fc.Append(f)
	}

	if err := shape.Err(); err != nil {
		return fmt.Errorf("error iterating shapes: %w", err)
	}

	data, err := json.Marshal(fc)
	if err != nil {
		return fmt.Errorf("failed to marshal GeoJSON: %w", err)
	}

	if err := os.WriteFile(outputPath, data, 0o644); err != nil {
		return fmt.Errorf("failed to write output file: %w", err)
	}

	fmt.Printf("Converted %d features to %s (%d bytes)\n", len(fc.Features), outputPath, len(data))
	return nil
}

// selectAttributes keeps whitelisted attributes under lowercased keys. An
// empty whitelist keeps everything under the original names.
func selectAttributes(attrs map[string]string, keep []string) map[string]string {
	out := make(map[string]string)
	if len(keep) == 0 {
		for k, v := range attrs {
			out[k] = v
		}
		return out
	}
	for _, key := range keep {
		if val := getAny(attrs, key, strings.ToLower(key)); val != "" {
			out[strings.ToLower(key)] = val
		}
	}
	return out
}

// getAny returns the first non-empty value among the given keys. Natural
// Earth writes -99 for missing values; those count as empty.
func getAny(attrs map[string]string, keys ...string) string {
	for _, key := range keys {
		if val, ok := attrs[key]; ok {
			val = strings.TrimSpace(val)
			if val != "" && val != "-99" {
				return val
			}
		}
	}
	return ""
}

func round(v float64, precision int) float64 {
	if precision <= 0 {
		return v
	}
	scale := math.Pow10(precision)
	return math.Round(v*scale) / scale
}

func convertPolyLine(s *shp.PolyLine, precision int) orb.MultiLineString {
	var multiline orb.MultiLineString

	for i := 0; i < int(s.NumParts); i++ {
		start := s.Parts[i]
		end := s.NumPoints
		if i < int(s.NumParts)-1 {
			end = s.Parts[i+1]
		}

		var line orb.LineString
		for j := start; j < end; j++ {
			line = append(line, orb.Point{round(s.Points[j].X, precision), round(s.Points[j].Y, precision)})
		}
		multiline = append(multiline, line)
	}
	return multiline
}

func convertPolygon(s *shp.Polygon, precision int) orb.Polygon {
	// Simple conversion treating all parts as rings of a single polygon
	var poly orb.Polygon

	for i := 0; i < int(s.NumParts); i++ {
		start := s.Parts[i]
		end := s.NumPoints
		if i < int(s.NumParts)-1 {
			end = s.Parts[i+1]
		}

		var ring orb.Ring
		for j := start; j < end; j++ {
			ring = append(ring, orb.Point{round(s.Points[j].X, precision), round(s.Points[j].Y, precision)})
		}
		poly = append(poly, ring)
	}
	return poly
}
