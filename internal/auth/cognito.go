package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider/types"
	"go.uber.org/zap"
)

// CognitoAPI is the subset of the Cognito client used to log in.
type CognitoAPI interface {
	InitiateAuth(ctx context.Context, params *cognitoidentityprovider.InitiateAuthInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.InitiateAuthOutput, error)
	ListUserPools(ctx context.Context, params *cognitoidentityprovider.ListUserPoolsInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUserPoolsOutput, error)
	ListUserPoolClients(ctx context.Context, params *cognitoidentityprovider.ListUserPoolClientsInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.ListUserPoolClientsOutput, error)
	DescribeUserPoolClient(ctx context.Context, params *cognitoidentityprovider.DescribeUserPoolClientInput, optFns ...func(*cognitoidentityprovider.Options)) (*cognitoidentityprovider.DescribeUserPoolClientOutput, error)
}

// Credentials identify the user to log in. When ClientID is empty the app
// client is discovered from StackName and Tenant by naming convention.
type Credentials struct {
	ClientID  string
	StackName string
	Tenant    string
	Username  string
	Password  string
}

// LoginResponse holds the tokens returned by Cognito.
type LoginResponse struct {
	AccessToken  string `json:"access_token"`
	IDToken      string `json:"id_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	ExpiresIn    int32  `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// LoginService authenticates against a Cognito user pool.
type LoginService struct {
	client CognitoAPI
	log    *zap.Logger
	now    func() time.Time
}

// NewLoginService creates a login service. A nil logger discards output.
func NewLoginService(client CognitoAPI, log *zap.Logger) *LoginService {
	if log == nil {
		log = zap.NewNop()
	}
	return &LoginService{client: client, log: log, now: time.Now}
}

// NewLoginServiceFromConfig builds the Cognito client from cfg.
func NewLoginServiceFromConfig(cfg aws.Config, log *zap.Logger) *LoginService {
	return NewLoginService(cognitoidentityprovider.NewFromConfig(cfg), log)
}

// Authenticate performs USER_PASSWORD_AUTH.
func (s *LoginService) Authenticate(ctx context.Context, creds Credentials) (*LoginResponse, error) {
	if creds.Username == "" || creds.Password == "" {
		return nil, fmt.Errorf("username and password are required")
	}

	clientID := creds.ClientID
	if clientID == "" {
		if creds.StackName == "" || creds.Tenant == "" {
			return nil, fmt.Errorf("client id or stack name and tenant are required")
		}
		userPoolID, err := s.findUserPoolByName(ctx, fmt.Sprintf("%s-%s-user-pool", creds.StackName, creds.Tenant))
		if err != nil {
			return nil, fmt.Errorf("failed to find user pool for tenant %s: %w", creds.Tenant, err)
		}
		clientID, err = s.findUserPoolClient(ctx, userPoolID, fmt.Sprintf("%s-%s-client", creds.StackName, creds.Tenant))
		if err != nil {
			return nil, fmt.Errorf("failed to find user pool client: %w", err)
		}
	}

	result, err := s.client.InitiateAuth(ctx, &cognitoidentityprovider.InitiateAuthInput{
		AuthFlow: types.AuthFlowTypeUserPasswordAuth,
		ClientId: aws.String(clientID),
		AuthParameters: map[string]string{
			"USERNAME": creds.Username,
			"PASSWORD": creds.Password,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}
	if result.AuthenticationResult == nil {
		return nil, fmt.Errorf("unexpected authentication response")
	}

	auth := result.AuthenticationResult
	return &LoginResponse{
		TokenType:    "Bearer",
		ExpiresIn:    auth.ExpiresIn,
		AccessToken:  aws.ToString(auth.AccessToken),
		IDToken:      aws.ToString(auth.IdToken),
		RefreshToken: aws.ToString(auth.RefreshToken),
	}, nil
}

// CognitoGetter logs in on every call and returns the access token with
// its expiry. Callers memoize it through the sender token cache.
func (s *LoginService) CognitoGetter(creds Credentials) Getter {
	return func(ctx context.Context, _ ...any) (any, error) {
		resp, err := s.Authenticate(ctx, creds)
		if err != nil {
			return nil, err
		}
		s.log.Debug("fetched cognito token", zap.Int32("expiresIn", resp.ExpiresIn))
		return Token{
			Value:  resp.AccessToken,
			Expire: s.now().Add(time.Duration(resp.ExpiresIn) * time.Second).Unix(),
		}, nil
	}
}

func (s *LoginService) findUserPoolByName(ctx context.Context, poolName string) (string, error) {
	paginator := cognitoidentityprovider.NewListUserPoolsPaginator(s.client, &cognitoidentityprovider.ListUserPoolsInput{
		MaxResults: aws.Int32(60),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list user pools: %w", err)
		}
		for _, pool := range page.UserPools {
			if aws.ToString(pool.Name) == poolName {
				return aws.ToString(pool.Id), nil
			}
		}
	}
	return "", fmt.Errorf("user pool not found: %s", poolName)
}

func (s *LoginService) findUserPoolClient(ctx context.Context, userPoolID, clientName string) (string, error) {
	paginator := cognitoidentityprovider.NewListUserPoolClientsPaginator(s.client, &cognitoidentityprovider.ListUserPoolClientsInput{
		UserPoolId: aws.String(userPoolID),
		MaxResults: aws.Int32(60),
	})

	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return "", fmt.Errorf("failed to list user pool clients: %w", err)
		}
		for _, client := range page.UserPoolClients {
			if aws.ToString(client.ClientName) == clientName {
				return aws.ToString(client.ClientId), nil
			}
			// List results may omit the name
			describe, err := s.client.DescribeUserPoolClient(ctx, &cognitoidentityprovider.DescribeUserPoolClientInput{
				UserPoolId: aws.String(userPoolID),
				ClientId:   client.ClientId,
			})
			if err != nil {
				continue
			}
			if describe.UserPoolClient != nil && aws.ToString(describe.UserPoolClient.ClientName) == clientName {
				return aws.ToString(client.ClientId), nil
			}
		}
	}
	return "", fmt.Errorf("user pool client not found: %s", clientName)
}
