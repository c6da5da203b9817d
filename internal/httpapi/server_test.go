package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-dispatch/internal/auth"
	"github.com/example/ride-dispatch/internal/dispatch"
	"github.com/example/ride-dispatch/internal/geo"
	"github.com/example/ride-dispatch/internal/logging"
	"github.com/example/ride-dispatch/internal/models"
	"github.com/example/ride-dispatch/internal/presence"
	"github.com/example/ride-dispatch/internal/realtime"
	"github.com/example/ride-dispatch/internal/reports"
	"github.com/example/ride-dispatch/internal/ride"
	"github.com/example/ride-dispatch/internal/storage"
)

const testSecret = "test-secret"

type apiRig struct {
	srv      *Server
	presence *presence.Memory
	rides    storage.RideRepo
}

func newAPIRig(t *testing.T) *apiRig {
	return newAPIRigWithLocations(t, nil)
}

func newAPIRigWithLocations(t *testing.T, locations LocationPublisher) *apiRig {
	t.Helper()

	pres := presence.NewMemory()
	rides := storage.NewMemoryRideRepo()

	rideSvc := &ride.Service{Rides: rides, Presence: pres}
	logger := logging.New("error")
	registry := realtime.NewRegistry()
	coord := dispatch.NewCoordinator(rideSvc, &geo.Matcher{Presence: pres},
		registry, storage.NewMemoryProfileRepo(), pres, logger)

	srv := NewServer(coord, rideSvc, &reports.Service{Rides: rides}, pres,
		registry, auth.NewJWTVerifier(testSecret), locations, logger)

	return &apiRig{srv: srv, presence: pres, rides: rides}
}

func token(t *testing.T, userID string, role models.Role) string {
	t.Helper()
	claims := auth.Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (rig *apiRig) do(t *testing.T, method, path, tok string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	rig.srv.ServeHTTP(rec, req)
	return rec
}

func decodeResp(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	return out
}

func TestRequestRideRequiresAuth(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, "POST", "/api/v1/rides/request", "", map[string]any{
		"pickup": map[string]float64{"lat": 12.9, "lng": 77.6},
		"drop":   map[string]float64{"lat": 13.0, "lng": 77.7},
		"city":   "Bangalore",
	})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequestRideRejectsDriverToken(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, "POST", "/api/v1/rides/request", token(t, "d1", models.RoleDriver), map[string]any{
		"pickup": map[string]float64{"lat": 12.9, "lng": 77.6},
		"drop":   map[string]float64{"lat": 13.0, "lng": 77.7},
		"city":   "Bangalore",
	})
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRequestRideValidation(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, "POST", "/api/v1/rides/request", token(t, "p1", models.RolePassenger), map[string]any{
		"pickup": map[string]float64{"lat": 95.0, "lng": 77.6},
		"drop":   map[string]float64{"lat": 13.0, "lng": 77.7},
		"city":   "Bangalore",
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Equal(t, "validation", decodeResp(t, rec)["code"])
}

func TestRideLifecycleOverHTTP(t *testing.T) {
	rig := newAPIRig(t)
	passengerTok := token(t, "p1", models.RolePassenger)
	driverTok := token(t, "d1", models.RoleDriver)

	// Driver comes online near the pickup point.
	rec := rig.do(t, "PUT", "/api/v1/drivers/location", driverTok, map[string]float64{"lat": 12.9716, "lng": 77.5946})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = rig.do(t, "PUT", "/api/v1/drivers/status", driverTok, map[string]bool{"online": true})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, "POST", "/api/v1/rides/request", passengerTok, map[string]any{
		"pickup": map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"drop":   map[string]float64{"lat": 12.9352, "lng": 77.6245},
		"city":   "Bangalore",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decodeResp(t, rec)
	rideID := created["ride_id"].(string)
	require.NotEmpty(t, rideID)
	require.Equal(t, float64(1), created["candidate_count"])

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/accept", rideID), driverTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "accepted", decodeResp(t, rec)["status"])

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/arrived", rideID), driverTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/start", rideID), driverTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/complete", rideID), driverTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	completed := decodeResp(t, rec)
	require.Equal(t, "completed", completed["status"])
	require.NotNil(t, completed["fare"])

	// Both projections see the finished ride.
	rec = rig.do(t, "GET", "/api/v1/passengers/rides/history", passengerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decodeResp(t, rec)["rides"], 1)

	rec = rig.do(t, "GET", "/api/v1/drivers/earnings", driverTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	earnings := decodeResp(t, rec)
	require.Equal(t, float64(1), earnings["total_rides"])
}

func TestAcceptUnknownRideIs404(t *testing.T) {
	rig := newAPIRig(t)
	rec := rig.do(t, "POST", "/api/v1/rides/nope/accept", token(t, "d1", models.RoleDriver), nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "ride_not_found", decodeResp(t, rec)["code"])
}

func TestSecondAcceptIsConflict(t *testing.T) {
	rig := newAPIRig(t)
	passengerTok := token(t, "p1", models.RolePassenger)

	for _, id := range []string{"d1", "d2"} {
		tok := token(t, id, models.RoleDriver)
		rig.do(t, "PUT", "/api/v1/drivers/location", tok, map[string]float64{"lat": 12.9716, "lng": 77.5946})
		rig.do(t, "PUT", "/api/v1/drivers/status", tok, map[string]bool{"online": true})
	}

	rec := rig.do(t, "POST", "/api/v1/rides/request", passengerTok, map[string]any{
		"pickup": map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"drop":   map[string]float64{"lat": 12.9352, "lng": 77.6245},
		"city":   "Bangalore",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rideID := decodeResp(t, rec)["ride_id"].(string)

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/accept", rideID), token(t, "d1", models.RoleDriver), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/accept", rideID), token(t, "d2", models.RoleDriver), nil)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, "ride_already_taken", decodeResp(t, rec)["code"])
}

func TestCancelByPassenger(t *testing.T) {
	rig := newAPIRig(t)
	passengerTok := token(t, "p1", models.RolePassenger)

	rec := rig.do(t, "POST", "/api/v1/rides/request", passengerTok, map[string]any{
		"pickup": map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"drop":   map[string]float64{"lat": 12.9352, "lng": 77.6245},
		"city":   "Bangalore",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rideID := decodeResp(t, rec)["ride_id"].(string)

	rec = rig.do(t, "POST", fmt.Sprintf("/api/v1/rides/%s/cancel", rideID), passengerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "cancelled", decodeResp(t, rec)["status"])

	// An outsider cannot even read it.
	rec = rig.do(t, "GET", "/api/v1/rides/"+rideID, token(t, "p2", models.RolePassenger), nil)
	require.Equal(t, http.StatusForbidden, rec.Code)
}

func TestRideDetailVisibleToParties(t *testing.T) {
	rig := newAPIRig(t)
	passengerTok := token(t, "p1", models.RolePassenger)

	rec := rig.do(t, "POST", "/api/v1/rides/request", passengerTok, map[string]any{
		"pickup": map[string]float64{"lat": 12.9716, "lng": 77.5946},
		"drop":   map[string]float64{"lat": 12.9352, "lng": 77.6245},
		"city":   "Bangalore",
	})
	rideID := decodeResp(t, rec)["ride_id"].(string)

	rec = rig.do(t, "GET", "/api/v1/rides/"+rideID, passengerTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, rideID, decodeResp(t, rec)["id"])
}

func TestDriverStatusOfflineClearsLocation(t *testing.T) {
	rig := newAPIRig(t)
	driverTok := token(t, "d1", models.RoleDriver)

	rig.do(t, "PUT", "/api/v1/drivers/location", driverTok, map[string]float64{"lat": 12.9, "lng": 77.6})
	rig.do(t, "PUT", "/api/v1/drivers/status", driverTok, map[string]bool{"online": true})

	rec := rig.do(t, "PUT", "/api/v1/drivers/status", driverTok, map[string]bool{"online": false})
	require.Equal(t, http.StatusOK, rec.Code)

	p, err := rig.presence.Get(context.Background(), "d1")
	require.NoError(t, err)
	require.False(t, p.Online)
	require.Nil(t, p.Location)
}
