package main

import (
	"fmt"

	chmock "github.com/workforce-oss/workforce-sub002/internal/channel/mock"
	"github.com/workforce-oss/workforce-sub002/internal/channel/slack"
	"github.com/workforce-oss/workforce-sub002/internal/config"
	docmock "github.com/workforce-oss/workforce-sub002/internal/docrepo/mock"
	"github.com/workforce-oss/workforce-sub002/internal/objects"
	resmock "github.com/workforce-oss/workforce-sub002/internal/resource/mock"
	toolmock "github.com/workforce-oss/workforce-sub002/internal/tool/mock"
	"github.com/workforce-oss/workforce-sub002/internal/tracker/github"
	trmock "github.com/workforce-oss/workforce-sub002/internal/tracker/mock"
	wmock "github.com/workforce-oss/workforce-sub002/internal/worker/mock"
)

type builder func(cfg *config.Config, obj objects.Config) (objects.Object, error)

type implKey struct {
	kind    objects.Kind
	subtype string
}

func wrap[T objects.Object](fn func(objects.Config) T) builder {
	return func(_ *config.Config, obj objects.Config) (objects.Object, error) {
		return fn(obj), nil
	}
}

var builders = map[implKey]builder{
	{objects.KindChannel, chmock.Subtype}:             wrap(chmock.New),
	{objects.KindTool, toolmock.Subtype}:              wrap(toolmock.New),
	{objects.KindTracker, trmock.Subtype}:             wrap(trmock.New),
	{objects.KindDocumentRepository, docmock.Subtype}: wrap(docmock.New),
	{objects.KindResource, resmock.Subtype}:           wrap(resmock.New),
	{objects.KindWorker, wmock.Subtype}:               wrap(wmock.New),
	{objects.KindChannel, slack.Subtype}:              newSlackChannel,
	{objects.KindTracker, github.Subtype}:             newGitHubTracker,
}

func newSlackChannel(cfg *config.Config, obj objects.Config) (objects.Object, error) {
	return slack.New(obj, slack.WithAppToken(cfg.Slack.AppToken))
}

func newGitHubTracker(cfg *config.Config, obj objects.Config) (objects.Object, error) {
	return github.New(obj, github.WithToken(cfg.GitHub.Token))
}

// newObject builds the live instance for one configured object.
func newObject(cfg *config.Config, obj objects.Config) (objects.Object, error) {
	build, ok := builders[implKey{obj.Kind, obj.Subtype}]
	if !ok {
		return nil, fmt.Errorf("%s %s: no implementation for subtype %q", obj.Kind, obj.ID, obj.Subtype)
	}
	return build(cfg, obj)
}
