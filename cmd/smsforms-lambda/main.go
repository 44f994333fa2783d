// Command smsforms-lambda serves the SMS provider webhook from AWS Lambda,
// keeping sessions in DynamoDB.
package main

import (
	"context"
	"os"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog"
	"github.com/soyeahso/smsforms/internal/formplayer"
	"github.com/soyeahso/smsforms/internal/logging"
	"github.com/soyeahso/smsforms/internal/paramstore"
	"github.com/soyeahso/smsforms/internal/smslambda"
	"github.com/soyeahso/smsforms/internal/store/dynamo"
)

func main() {
	ctx := context.Background()
	log := logging.New(os.Stdout, "info")

	e, err := smslambda.LoadEnv()
	if err != nil {
		fatal(log, err, "reading environment")
	}
	log = logging.New(zerolog.SyncWriter(os.Stdout), e.LogLevel)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		fatal(log, err, "loading AWS config")
	}

	params, err := paramstore.New(ssm.NewFromConfig(awsCfg))
	if err != nil {
		fatal(log, err, "creating parameter store client")
	}
	secret, err := paramstore.Resolve(ctx, params, e.WebhookSecret)
	if err != nil {
		fatal(log, err, "resolving webhook secret")
	}

	st, err := dynamo.New(dynamodb.NewFromConfig(awsCfg), e.Table, log)
	if err != nil {
		fatal(log, err, "creating session store")
	}

	engine := formplayer.NewHTTPClient(e.FormPlayerURL, formplayer.HTTPOptions{
		Timeout: e.FormPlayerTimeout,
		Retries: e.FormPlayerRetries,
	}, log)
	hm := smslambda.NotifyHooks(e.NotifyURLs, nil, log)
	router := smslambda.NewRouter(e, st, engine, hm, log)

	h, err := smslambda.NewHandler(router, secret, log)
	if err != nil {
		fatal(log, err, "creating handler")
	}
	lambda.Start(h.Handle)
}

func fatal(log *logging.Logger, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	os.Exit(1)
}
