package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
)

type object = map[string]interface{}

func queryParam(name, description, typ string, required bool) object {
	return object{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    required,
		"schema":      object{"type": typ},
	}
}

func pathParam(name, description, typ string) object {
	return object{
		"name":        name,
		"in":          "path",
		"description": description,
		"required":    true,
		"schema":      object{"type": typ},
	}
}

func jsonBody(properties object) object {
	return object{
		"required": true,
		"content": object{
			"application/json": object{
				"schema": object{"type": "object", "properties": properties},
			},
		},
	}
}

func response(description, contentType string) object {
	return object{
		"description": description,
		"content": object{
			contentType: object{"schema": object{"type": "object"}},
		},
	}
}

func operation(summary, description string, params []object, codes ...string) object {
	responses := object{"200": response("Successful response", "application/json")}
	for _, code := range codes {
		switch code {
		case "400":
			responses[code] = response("Invalid request", "application/json")
		case "404":
			responses[code] = response("Not found", "application/json")
		case "503":
			responses[code] = response("Playback controller not running", "application/json")
		}
	}
	op := object{
		"summary":     summary,
		"description": description,
		"responses":   responses,
	}
	if len(params) > 0 {
		op["parameters"] = params
	}
	return op
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the radar viewer API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	layerParam := pathParam("layer", "lightning, temperature, wind, clouds, humidity or pressure", "string")

	setHistory := operation("Select radar frame", "Stops the animation and shows the given history step (0 is live). Step 0 resumes auto-refresh.", nil, "400", "503")
	setHistory["requestBody"] = jsonBody(object{
		"step":   object{"type": "integer", "minimum": 0},
		"slider": object{"type": "integer", "description": "slider position, max is live"},
	})

	updatePrefs := operation("Update preferences", "Partial update of the client preferences", nil, "400")
	updatePrefs["requestBody"] = jsonBody(object{
		"active_layer":  object{"type": "string"},
		"toggles":       object{"type": "object", "additionalProperties": object{"type": "boolean"}},
		"radar_opacity": object{"type": "number", "minimum": 0, "maximum": 1},
		"map": object{"type": "object", "properties": object{
			"lat":  object{"type": "number"},
			"lng":  object{"type": "number"},
			"zoom": object{"type": "integer", "minimum": 1, "maximum": 8},
		}},
	})

	setLayer := operation("Toggle layer", "Turns a layer on (exclusively) or off", []object{layerParam}, "400")
	setLayer["requestBody"] = jsonBody(object{"enabled": object{"type": "boolean"}})

	frame := operation("Radar frame", "PNG radar image of a history step, from the preload cache when available",
		[]object{
			pathParam("step", "history step, 0 is live", "integer"),
			queryParam("bbox", "west,south,east,north in EPSG:3067 metres", "string", true),
			queryParam("width", "image width in pixels (default 1024)", "integer", false),
			queryParam("height", "image height in pixels (default 1024)", "integer", false),
		}, "400")
	frame["responses"].(object)["200"] = response("Radar image", "image/png")

	lightning := operation("Lightning strikes", "Strikes of the last 15 minutes as a GeoJSON FeatureCollection", nil)
	lightning["responses"].(object)["200"] = response("FeatureCollection", "application/geo+json")

	measure := operation("Measure distance", "Distance on the EPSG:3067 plane between two points",
		[]object{
			queryParam("from", "lat,lng", "string", true),
			queryParam("to", "lat,lng", "string", true),
			queryParam("zoom", "map zoom used for the pixel length", "number", false),
		}, "400")

	refreshes := operation("Refresh history", "Recorded refresh runs, newest first",
		[]object{
			queryParam("trigger", "startup, timer, manual or resume", "string", false),
			queryParam("since", "RFC 3339 lower bound on started_at", "string", false),
			queryParam("page", "page number (default 1)", "integer", false),
			queryParam("limit", "records per page (default 50)", "integer", false),
		}, "400")

	animation := operation("Animation control", "start, stop or toggle the radar animation; frames are preloaded for the given viewport",
		[]object{
			pathParam("action", "start, stop or toggle", "string"),
			queryParam("bbox", "west,south,east,north in EPSG:3067 metres (default: configured preload box)", "string", false),
			queryParam("width", "image width in pixels (default 1024)", "integer", false),
			queryParam("height", "image height in pixels (default 1024)", "integer", false),
		}, "400", "404", "503")

	paths := object{}
	paths["/api/state"] = object{"get": operation("Viewer state", "Formatted playback state, ages, countdown and radar parameters", nil)}
	paths["/api/lightning"] = object{"get": lightning}
	paths["/api/layers/{layer}"] = object{"get": operation("Layer markers", "Formatted markers of one layer", []object{layerParam}, "400")}
	paths["/api/radar/times"] = object{"get": operation("Radar times", "Radar frame times, newest first", nil)}
	paths["/api/radar/frames/{step}"] = object{"get": frame}
	paths["/api/history"] = object{"post": setHistory}
	paths["/api/animation/{action}"] = object{"post": animation}
	paths["/api/refresh"] = object{"post": operation("Manual refresh", "Returns to live, refreshes every layer and restarts auto-refresh", nil, "503")}
	paths["/api/preferences"] = object{
		"get":    operation("Get preferences", "Preferences of the client identified by the wx_client cookie", nil),
		"put":    updatePrefs,
		"delete": operation("Reset preferences", "Forgets the preferences of the client", nil),
	}
	paths["/api/preferences/layers/{layer}"] = object{"put": setLayer}
	paths["/api/measure"] = object{"get": measure}
	paths["/api/refreshes"] = object{"get": refreshes}
	paths["/ws"] = object{"get": operation("State stream", "WebSocket pushing {\"type\":\"state\",\"data\":...} on every change and every second", nil)}
	paths["/health"] = object{"get": operation("Health check", "Reports database connectivity", nil, "503")}
	paths["/metrics"] = object{
		"get": object{
			"summary":   "Prometheus metrics",
			"responses": object{"200": response("Prometheus metrics in text format", "text/plain")},
		},
	}

	spec := object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Radar Viewer API",
			"description": "Weather radar map viewer backed by FMI open data: radar history playback, lightning and station observation layers",
			"version":     "1.0.0",
		},
		"servers": []map[string]string{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": paths,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(spec)
}

// RegisterDocsRoutes registers the documentation routes
func RegisterDocsRoutes(router *mux.Router) {
	router.HandleFunc("/api/docs", SwaggerUI).Methods("GET")
	router.HandleFunc("/api/docs/openapi.json", OpenAPISpec).Methods("GET")
}
