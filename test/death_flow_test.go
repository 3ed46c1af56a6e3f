package test

import (
	"bytes"
	"context"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vigil/internal/consensus/adapters"
	"vigil/internal/consensus/eventlog"
	consensushandler "vigil/internal/consensus/handler"
	consensusservice "vigil/internal/consensus/service"
	"vigil/internal/consensus/statecache"
	jwttoken "vigil/internal/jwt_token"
	httptransport "vigil/internal/transport/http"
	vaulthandler "vigil/internal/vault/handler"
	vaultservice "vigil/internal/vault/service"
	vaultstore "vigil/internal/vault/store"
	id "vigil/pkg/domain"
	"vigil/pkg/platform/middleware/admin"
	"vigil/pkg/testutil"
)

const operatorToken = "flow-operator-token"

type api struct {
	router http.Handler
	jwt    *jwttoken.JWTService
}

func newAPI(t *testing.T) *api {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	engineID := id.UserID(uuid.New())

	queue := consensusservice.NewQueue()
	vaults := vaultservice.New(vaultstore.NewInMemory(),
		vaultservice.WithLogger(logger),
		vaultservice.WithVerifierAuthority(vaultservice.NewRoleVerifier(engineID)),
		vaultservice.WithTriggerListener(func(_ context.Context, subject id.SubjectID) {
			queue.Push(subject)
		}),
	)
	engine := consensusservice.New(eventlog.NewInMemory(), statecache.NewInMemory(),
		adapters.NewVaultAdapter(vaults, engineID),
		consensusservice.WithLogger(logger),
		consensusservice.WithQueue(queue),
	)
	processor := consensusservice.NewProcessor(engine, engine.Queue(), logger)

	jwt := jwttoken.NewJWTService("flow-test-key", "vigil", "vigil-api")
	return &api{
		jwt: jwt,
		router: httptransport.NewRouter(httptransport.Deps{
			Logger:        logger,
			Validator:     jwttoken.NewJWTServiceAdapter(jwt),
			OperatorToken: operatorToken,
			Handlers: []httptransport.Registrar{
				vaulthandler.New(vaults, logger),
				consensushandler.New(engine, logger),
			},
			Operator: []httptransport.Registrar{consensushandler.NewOperator(processor, engine, logger)},
		}),
	}
}

// authorize attaches a bearer token for user with roles.
func (a *api) authorize(t *testing.T, req *http.Request, user id.UserID, roles ...string) *http.Request {
	t.Helper()
	token, err := a.jwt.GenerateAccessToken(uuid.UUID(user), roles, time.Hour)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestDeathCertificateVerifiesTriggeredVault(t *testing.T) {
	a := newAPI(t)
	owner := id.UserID(uuid.New())
	guardians := []id.UserID{id.UserID(uuid.New()), id.UserID(uuid.New()), id.UserID(uuid.New())}
	heir := id.UserID(uuid.New())
	var vaultID string

	testutil.Given(t, "a vault whose guardians reached quorum", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/vaults", map[string]any{
			"beneficiaries":     []string{heir.String()},
			"guardians":         []string{guardians[0].String(), guardians[1].String(), guardians[2].String()},
			"metadata_uri":      "ipfs://bafy/meta.json",
			"scheme":            "2of3",
			"check_in_interval": "720h",
			"grace_period":      "168h",
		})
		rr := testutil.DoRequest(a.router, a.authorize(t, req, owner))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		vaultID = testutil.UnmarshalResponse[vaulthandler.VaultResponse](t, rr).ID

		for _, g := range guardians[:2] {
			rr := testutil.DoRequest(a.router, a.authorize(t, testutil.NewRequest(t, http.MethodPost, "/vaults/"+vaultID+"/attestations"), g))
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		}

		testutil.When(t, "a verified death certificate arrives and the batch runs", func(t *testing.T) {
			req := testutil.NewJSONRequest(t, http.MethodPost, "/consensus/certificates", map[string]any{
				"subject_id":     owner.String(),
				"certificate_id": "DC-77",
				"jurisdiction":   "NY",
				"verified":       true,
			})
			rr := testutil.DoRequest(a.router, a.authorize(t, req, id.UserID(uuid.New()), id.RoleCollector))
			require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

			run := testutil.NewRequest(t, http.MethodPost, "/admin/consensus/run")
			run.Header.Set(admin.HeaderOperatorToken, operatorToken)
			rr = testutil.DoRequest(a.router, run)
			require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			report := testutil.UnmarshalResponse[consensushandler.BatchReportResponse](t, rr)
			assert.Equal(t, 1, report.Processed)
			assert.Equal(t, 1, report.Applied)

			testutil.Then(t, "the vault is death verified by the engine", func(t *testing.T) {
				rr := testutil.DoRequest(a.router, a.authorize(t, testutil.NewRequest(t, http.MethodGet, "/vaults/"+vaultID), heir))
				require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
				vault := testutil.UnmarshalResponse[vaulthandler.VaultResponse](t, rr)
				assert.Equal(t, "death_verified", vault.Status)
				assert.NotNil(t, vault.VerifiedAt)
			})

			testutil.Then(t, "a second pass has nothing left to apply", func(t *testing.T) {
				run := testutil.NewRequest(t, http.MethodPost, "/admin/consensus/run")
				run.Header.Set(admin.HeaderOperatorToken, operatorToken)
				rr := testutil.DoRequest(a.router, run)
				report := testutil.UnmarshalResponse[consensushandler.BatchReportResponse](t, rr)
				assert.Zero(t, report.Processed)
			})
		})
	})
}

func (a *api) runBatch(t *testing.T) consensushandler.BatchReportResponse {
	t.Helper()
	run := testutil.NewRequest(t, http.MethodPost, "/admin/consensus/run")
	run.Header.Set(admin.HeaderOperatorToken, operatorToken)
	rr := testutil.DoRequest(a.router, run)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return *testutil.UnmarshalResponse[consensushandler.BatchReportResponse](t, rr)
}

func (a *api) vaultStatus(t *testing.T, vaultID string, caller id.UserID) string {
	t.Helper()
	rr := testutil.DoRequest(a.router, a.authorize(t, testutil.NewRequest(t, http.MethodGet, "/vaults/"+vaultID), caller))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return testutil.UnmarshalResponse[vaulthandler.VaultResponse](t, rr).Status
}

func TestCertificateBeforeGuardianQuorum(t *testing.T) {
	a := newAPI(t)
	owner := id.UserID(uuid.New())
	guardians := []id.UserID{id.UserID(uuid.New()), id.UserID(uuid.New()), id.UserID(uuid.New())}
	heir := id.UserID(uuid.New())
	var vaultID string

	testutil.Given(t, "an active vault and a verified death certificate for its owner", func(t *testing.T) {
		req := testutil.NewJSONRequest(t, http.MethodPost, "/vaults", map[string]any{
			"beneficiaries":     []string{heir.String()},
			"guardians":         []string{guardians[0].String(), guardians[1].String(), guardians[2].String()},
			"metadata_uri":      "ipfs://bafy/early.json",
			"scheme":            "2of3",
			"check_in_interval": "720h",
			"grace_period":      "168h",
		})
		rr := testutil.DoRequest(a.router, a.authorize(t, req, owner))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
		vaultID = testutil.UnmarshalResponse[vaulthandler.VaultResponse](t, rr).ID

		req = testutil.NewJSONRequest(t, http.MethodPost, "/consensus/certificates", map[string]any{
			"subject_id":     owner.String(),
			"certificate_id": "DC-81",
			"jurisdiction":   "CA",
			"verified":       true,
		})
		rr = testutil.DoRequest(a.router, a.authorize(t, req, id.UserID(uuid.New()), id.RoleCollector))
		require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

		testutil.When(t, "the batch runs before any guardian attests", func(t *testing.T) {
			report := a.runBatch(t)
			assert.Equal(t, 1, report.Processed)
			assert.Equal(t, 1, report.Waiting)
			assert.Zero(t, report.Applied)
			assert.Zero(t, report.Failed)

			testutil.Then(t, "the vault is untouched and the evidence is kept", func(t *testing.T) {
				assert.Equal(t, "active", a.vaultStatus(t, vaultID, heir))
				rr := testutil.DoRequest(a.router, a.authorize(t, testutil.NewRequest(t, http.MethodGet, "/consensus/subjects/"+owner.String()), id.UserID(uuid.New()), id.RoleCollector))
				require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
				st := testutil.UnmarshalResponse[consensushandler.StateResponse](t, rr)
				assert.Equal(t, "verify_death", st.Action)
			})
		})

		testutil.When(t, "the guardians reach quorum and a later batch runs", func(t *testing.T) {
			for _, g := range guardians[:2] {
				rr := testutil.DoRequest(a.router, a.authorize(t, testutil.NewRequest(t, http.MethodPost, "/vaults/"+vaultID+"/attestations"), g))
				require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
			}
			report := a.runBatch(t)
			assert.Equal(t, 1, report.Processed)
			assert.Equal(t, 1, report.Applied)

			testutil.Then(t, "the waiting certificate verifies the vault", func(t *testing.T) {
				assert.Equal(t, "death_verified", a.vaultStatus(t, vaultID, heir))
			})
		})
	})
}

func TestCollectorCannotVerifyDirectly(t *testing.T) {
	a := newAPI(t)
	req := testutil.NewJSONRequest(t, http.MethodPost, "/vaults/"+uuid.NewString()+"/verification", map[string]string{"subject_id": uuid.NewString()})
	rr := testutil.DoRequest(a.router, a.authorize(t, req, id.UserID(uuid.New()), id.RoleCollector))
	testutil.AssertStatusAndError(t, rr, http.StatusForbidden, "unauthorized")
}
