package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func signed(t *testing.T, claims jwt.Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("secret"))
	require.NoError(t, err)
	return token
}

func TestExpiryFromJWT(t *testing.T) {
	req := require.New(t)
	exp := time.Date(2030, 1, 1, 0, 0, 0, 0, time.UTC)

	token := signed(t, TenantClaims{
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)},
		TenantID:         "acme",
	})

	got, err := ExpiryFromJWT("Bearer " + token)
	req.NoError(err)
	req.Equal(exp.Unix(), got)

	tenant, err := ExtractTenantFromToken(token)
	req.NoError(err)
	req.Equal("acme", tenant)

	noExp := signed(t, jwt.RegisteredClaims{Subject: "u"})
	got, err = ExpiryFromJWT(noExp)
	req.NoError(err)
	req.Zero(got)
	_, err = ExtractTenantFromToken(noExp)
	req.ErrorIs(err, ErrMissingTenantID)

	_, err = ExpiryFromJWT("garbage")
	req.Error(err)
}

func TestGetters(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()

	value, err := StaticGetter(Token{Value: "t", Expire: 5})(ctx)
	req.NoError(err)
	req.Equal(Token{Value: "t", Expire: 5}, value)

	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	token := signed(t, jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(exp)})
	value, err = JWTGetter(token)(ctx)
	req.NoError(err)
	req.Equal(Token{Value: token, Expire: exp.Unix()}, value)

	req.False(Token{Value: "x"}.Expired(time.Now()))
	req.True(Token{Value: "x", Expire: 10}.Expired(time.Unix(10, 0)))
}

type fakeCognito struct {
	pools   []types.UserPoolDescriptionType
	clients []types.UserPoolClientDescription
	auth    *types.AuthenticationResultType
	authErr error
	lastIn  *cognitoidentityprovider.InitiateAuthInput
}

func (f *fakeCognito) InitiateAuth(_ context.Context, in *cognitoidentityprovider.InitiateAuthInput, _ ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error) {
	f.lastIn = in
	if f.authErr != nil {
		return nil, f.authErr
	}
	return &cognitoidentityprovider.InitiateAuthOutput{AuthenticationResult: f.auth}, nil
}

func (f *fakeCognito) ListUserPools(context.Context, *cognitoidentityprovider.ListUserPoolsInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUserPoolsOutput, error) {
	return &cognitoidentityprovider.ListUserPoolsOutput{UserPools: f.pools}, nil
}

func (f *fakeCognito) ListUserPoolClients(context.Context, *cognitoidentityprovider.ListUserPoolClientsInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUserPoolClientsOutput, error) {
	return &cognitoidentityprovider.ListUserPoolClientsOutput{UserPoolClients: f.clients}, nil
}

func (f *fakeCognito) DescribeUserPoolClient(context.Context, *cognitoidentityprovider.DescribeUserPoolClientInput, ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.DescribeUserPoolClientOutput, error) {
	return nil, errors.New("not used")
}

func TestCognitoGetter(t *testing.T) {
	req := require.New(t)
	fake := &fakeCognito{
		pools: []types.UserPoolDescriptionType{
			{Id: aws.String("pool-other"), Name: aws.String("demo-other-user-pool")},
			{Id: aws.String("pool-acme"), Name: aws.String("demo-acme-user-pool")},
		},
		clients: []types.UserPoolClientDescription{
			{ClientId: aws.String("client-acme"), ClientName: aws.String("demo-acme-client")},
		},
		auth: &types.AuthenticationResultType{AccessToken: aws.String("access"), ExpiresIn: 3600},
	}
	service := NewLoginService(fake, nil)
	service.now = func() time.Time { return time.Unix(1000, 0) }

	value, err := service.CognitoGetter(Credentials{StackName: "demo", Tenant: "acme", Username: "u", Password: "p"})(context.Background())
	req.NoError(err)
	req.Equal(Token{Value: "access", Expire: 4600}, value)
	req.Equal("client-acme", aws.ToString(fake.lastIn.ClientId))
	req.Equal(types.AuthFlowTypeUserPasswordAuth, fake.lastIn.AuthFlow)

	_, err = service.Authenticate(context.Background(), Credentials{Username: "u", Password: "p"})
	req.Error(err)

	fake.authErr = errors.New("NotAuthorizedException")
	_, err = service.Authenticate(context.Background(), Credentials{ClientID: "direct", Username: "u", Password: "p"})
	req.ErrorIs(err, fake.authErr)
}

func TestTenantMiddleware(t *testing.T) {
	req := require.New(t)
	token := signed(t, TenantClaims{TenantID: "acme"})

	var seen string
	handler := TenantMiddleware(nil)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		seen, _ = GetTenantID(r.Context())
	}))

	r := httptest.NewRequest(http.MethodPut, "/files/a", nil)
	r.Header.Set("Authorization", "Bearer "+token)
	handler.ServeHTTP(httptest.NewRecorder(), r)
	req.Equal("acme", seen)

	seen = "unset"
	r = httptest.NewRequest(http.MethodPut, "/files/a", nil)
	r.Header.Set("Authorization", "Bearer broken")
	handler.ServeHTTP(httptest.NewRecorder(), r)
	req.Equal("", seen)
}
