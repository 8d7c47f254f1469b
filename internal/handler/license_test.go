package handler

import (
	"context"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"armt-platform/internal/model"
)

func TestHandleLicenseValidate(t *testing.T) {
	env := newTestEnv(t)
	owner := env.addUser(t, "owner@example.com", model.RoleUser)
	license := env.addLicense(t, owner.ID, time.Now().UTC().AddDate(0, 0, 30), true)
	expired := env.addLicense(t, owner.ID, time.Now().UTC().AddDate(0, 0, -1), true)
	deactivated := env.addLicense(t, owner.ID, time.Now().UTC().AddDate(0, 0, 30), false)

	// 顺序执行：第一次验证绑定设备，之后的请求依赖该绑定
	tests := []struct {
		name       string
		body       interface{}
		wantStatus int
		wantValid  bool
		wantReason string
	}{
		{
			name:       "first_use_binds",
			body:       map[string]string{"key": license.Key, "machine_id": "machine-a"},
			wantStatus: http.StatusOK,
			wantValid:  true,
		},
		{
			name:       "same_machine",
			body:       map[string]string{"key": license.Key, "machine_id": "machine-a"},
			wantStatus: http.StatusOK,
			wantValid:  true,
		},
		{
			name:       "other_machine",
			body:       map[string]string{"key": license.Key, "machine_id": "machine-b"},
			wantStatus: http.StatusForbidden,
			wantReason: "device_mismatch",
		},
		{
			name:       "unknown_key",
			body:       map[string]string{"key": "ARMT-0000-0000-0000", "machine_id": "machine-a"},
			wantStatus: http.StatusNotFound,
			wantReason: "not_found",
		},
		{
			name:       "malformed_key",
			body:       map[string]string{"key": "not-a-key", "machine_id": "machine-a"},
			wantStatus: http.StatusBadRequest,
			wantReason: "malformed_input",
		},
		{
			name:       "missing_machine",
			body:       map[string]string{"key": license.Key},
			wantStatus: http.StatusBadRequest,
			wantReason: "malformed_input",
		},
		{
			name:       "invalid_json",
			body:       "{",
			wantStatus: http.StatusBadRequest,
			wantReason: "malformed_input",
		},
		{
			name:       "expired",
			body:       map[string]string{"key": expired.Key, "machine_id": "machine-a"},
			wantStatus: http.StatusForbidden,
			wantReason: "expired",
		},
		{
			name:       "deactivated",
			body:       map[string]string{"key": deactivated.Key, "machine_id": "machine-a"},
			wantStatus: http.StatusForbidden,
			wantReason: "deactivated",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.do(t, call{method: http.MethodPost, path: "/api/v1/license/validate", body: tt.body})
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			require.NotNil(t, body)
			assert.Equal(t, tt.wantValid, body["valid"])
			if tt.wantValid {
				assert.NotEmpty(t, body["download_token"])
				assert.Equal(t, "2.0.1", body["version"])
				assert.NotEmpty(t, body["expires_at"])
			} else {
				assert.Equal(t, tt.wantReason, body["reason"])
				assert.NotEmpty(t, body["error"])
			}
		})
	}

	t.Run("expired_reports_date", func(t *testing.T) {
		_, body := env.do(t, call{method: http.MethodPost, path: "/api/v1/license/validate",
			body: map[string]string{"key": expired.Key, "machine_id": "machine-a"}})
		assert.NotEmpty(t, body["expires_at"])
	})

	assert.Equal(t, 1.0, env.counter(t, "armt_license_activations_total"))

	series, err := testutil.GatherAndCount(env.registry, "armt_http_requests_total")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, series, 3)
}

// counter reads an unlabelled counter from the test registry.
func (e *testEnv) counter(t *testing.T, name string) float64 {
	t.Helper()
	families, err := e.registry.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == name && len(f.GetMetric()) == 1 {
			return f.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

func TestAdminLicenseRoutes(t *testing.T) {
	env := newTestEnv(t)
	admin := env.addUser(t, "admin@example.com", model.RoleAdmin)
	customer := env.addUser(t, "customer@example.com", model.RoleUser)
	adminToken := env.token(t, admin)

	t.Run("create", func(t *testing.T) {
		tests := []struct {
			name       string
			body       interface{}
			wantStatus int
		}{
			{"valid", map[string]interface{}{"user_id": customer.ID, "duration_days": 30}, http.StatusCreated},
			{"custom_limit", map[string]interface{}{"user_id": customer.ID, "duration_days": 7, "max_activations": 3}, http.StatusCreated},
			{"zero_days", map[string]interface{}{"user_id": customer.ID, "duration_days": 0}, http.StatusBadRequest},
			{"missing_user", map[string]interface{}{"duration_days": 30}, http.StatusBadRequest},
			{"negative_limit", map[string]interface{}{"user_id": customer.ID, "duration_days": 30, "max_activations": -1}, http.StatusBadRequest},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				resp, body := env.do(t, call{method: http.MethodPost, path: "/api/admin/licenses/create", body: tt.body, token: adminToken})
				assert.Equal(t, tt.wantStatus, resp.StatusCode)
				if tt.wantStatus == http.StatusCreated {
					assert.Equal(t, true, body["success"])
					assert.Regexp(t, `^ARMT-[A-F0-9]{4}-[A-F0-9]{4}-[A-F0-9]{4}$`, body["license_key"])
				} else {
					assert.Equal(t, "malformed_input", body["code"])
				}
			})
		}
	})

	t.Run("access", func(t *testing.T) {
		resp, body := env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, "unauthorized", body["code"])

		resp, body = env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses", token: env.token(t, customer)})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "forbidden", body["code"])

		resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses", token: "garbage"})
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	licenses, err := env.licenses.FindByUserID(context.Background(), customer.ID)
	require.NoError(t, err)
	require.Len(t, licenses, 2)
	target := licenses[0]

	t.Run("list", func(t *testing.T) {
		resp, body := env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses", token: adminToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["licenses"], 2)

		resp, body = env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses/user/" + uintString(customer.ID), token: adminToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["licenses"], 2)

		resp, body = env.do(t, call{method: http.MethodGet, path: "/api/user/licenses", token: env.token(t, customer)})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Len(t, body["licenses"], 2)
	})

	t.Run("bind_then_reset", func(t *testing.T) {
		resp, _ := env.do(t, call{method: http.MethodPost, path: "/api/v1/license/validate",
			body: map[string]string{"key": target.Key, "machine_id": "machine-a"}})
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp, body := env.do(t, call{method: http.MethodPatch, path: "/api/admin/licenses/" + uintString(target.ID) + "/reset", token: adminToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		license := body["license"].(map[string]interface{})
		assert.Nil(t, license["device_binding"])
		assert.Equal(t, 1.0, license["current_activations"])
	})

	t.Run("update", func(t *testing.T) {
		path := "/api/admin/licenses/" + uintString(target.ID)

		resp, body := env.do(t, call{method: http.MethodPatch, path: path, token: adminToken, body: map[string]interface{}{"max_activations": 2}})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, 2.0, body["license"].(map[string]interface{})["max_activations"])

		resp, body = env.do(t, call{method: http.MethodPatch, path: path, token: adminToken, body: map[string]interface{}{}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Equal(t, "malformed_input", body["code"])

		resp, _ = env.do(t, call{method: http.MethodPatch, path: "/api/admin/licenses/999", token: adminToken, body: map[string]interface{}{"is_active": true}})
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		resp, _ = env.do(t, call{method: http.MethodPatch, path: "/api/admin/licenses/abc", token: adminToken, body: map[string]interface{}{"is_active": true}})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("deactivate", func(t *testing.T) {
		resp, body := env.do(t, call{method: http.MethodPatch, path: "/api/admin/licenses/" + uintString(target.ID) + "/deactivate", token: adminToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, false, body["license"].(map[string]interface{})["is_active"])

		resp, body = env.do(t, call{method: http.MethodPost, path: "/api/v1/license/validate",
			body: map[string]string{"key": target.Key, "machine_id": "machine-a"}})
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
		assert.Equal(t, "deactivated", body["reason"])
	})

	t.Run("usage", func(t *testing.T) {
		resp, body := env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses/" + target.Key + "/usage?limit=10", token: adminToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		usage := body["usage"].([]interface{})
		require.Len(t, usage, 2)
		// 最新的记录在前
		assert.Equal(t, "validate:deactivated", usage[0].(map[string]interface{})["action"])

		resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses/bogus/usage", token: adminToken})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("statistics", func(t *testing.T) {
		resp, body := env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses/statistics", token: adminToken})
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		stats := body["statistics"].(map[string]interface{})
		assert.Equal(t, 2.0, stats["total_licenses"])
		assert.Equal(t, 1.0, stats["deactivated_licenses"])
		assert.Equal(t, 2.0, stats["total_checks"])
		assert.Equal(t, 0.5, body["success_rate"])

		resp, _ = env.do(t, call{method: http.MethodGet, path: "/api/admin/licenses/statistics?start_date=yesterday", token: adminToken})
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("sync_without_sheet", func(t *testing.T) {
		resp, body := env.do(t, call{method: http.MethodPost, path: "/api/admin/licenses/sync", token: adminToken})
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
		assert.Equal(t, "unavailable", body["code"])
	})
}

func uintString(v uint) string {
	return strconv.FormatUint(uint64(v), 10)
}
