package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/redis/go-redis/v9"

	"github.com/RetrieverRobotics/UMBC-Robosub/internal/config"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/health"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/logging"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/metrics"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/mission"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/task"
	"github.com/RetrieverRobotics/UMBC-Robosub/internal/thread"
	"github.com/RetrieverRobotics/UMBC-Robosub/pkg/comms"
)

// vehicle is one assembled brain: bus, supervisor, manager and the
// optional shore link and health server, which also serves /metrics.
type vehicle struct {
	cfg     *config.MissionConfig
	logger  *logging.Logger
	bus     *comms.Bus
	sup     *thread.Supervisor
	manager *task.Manager
	shore   *comms.RedisLink
	health  *health.Server

	rejected []string
	diags    []task.Diagnostic
}

// newVehicle wires a vehicle from cfg. teensy is the microcontroller
// transport; nil runs against a local stub. input feeds the operator
// console; nil disables it.
func newVehicle(ctx context.Context, cfg *config.MissionConfig, teensy comms.Transport, input io.Reader, logger *logging.Logger) (*vehicle, error) {
	v := &vehicle{
		cfg:     cfg,
		logger:  logger,
		bus:     comms.New(comms.WithLogger(logger)),
		sup:     thread.NewSupervisor(thread.WithLogger(logger)),
		manager: task.NewManager(task.WithManagerLogger(logger)),
	}

	if err := mission.SetupLinks(v.bus, teensy); err != nil {
		return nil, fmt.Errorf("failed to set up links: %w", err)
	}

	if rc := cfg.Links.Redis; rc != nil {
		opts, err := redis.ParseURL(rc.URL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		v.shore, err = comms.NewRedisLink(ctx, opts, rc.Vehicle, rc.Link, comms.WithRedisLogger(logger))
		if err != nil {
			v.close()
			return nil, err
		}
		if err := v.bus.AddLink(rc.Link, v.shore, comms.CopyLocal); err != nil {
			v.close()
			return nil, fmt.Errorf("failed to add shore link: %w", err)
		}
	}

	if err := mission.PublishParams(v.bus, cfg.Params()); err != nil {
		v.close()
		return nil, err
	}

	deps := mission.Deps{
		Supervisor: v.sup,
		Bus:        v.bus,
		Logger:     logger,
		Input:      input,
	}
	if v.shore != nil {
		deps.ShoreLink = cfg.Links.Redis.Link
	}
	if err := mission.Register(v.manager, deps); err != nil {
		v.close()
		return nil, err
	}

	v.rejected = v.manager.OnStart(cfg.Start)
	v.diags = v.manager.ConfigureTree(cfg.Tree)

	if !cfg.Health.Disabled {
		reg, _ := metrics.NewRegistry(v.manager, v.sup, v.bus)
		opts := []health.Option{
			health.WithLogger(logger),
			health.WithMetrics(metrics.HandlerFor(reg)),
		}
		if v.shore != nil {
			opts = append(opts, health.WithRedis(v.shore))
		}
		v.health = health.NewServer(cfg.Health.Addr, v.manager, v.sup, v.bus, opts...)
	}

	return v, nil
}

// run drives the control loop until ctx ends or every task has finished.
// A cancelled ctx is a normal stop.
func (v *vehicle) run(ctx context.Context) error {
	if v.health != nil {
		if err := v.health.Start(); err != nil {
			return fmt.Errorf("failed to start health server on %s: %w", v.cfg.Health.Addr, err)
		}
	}

	err := v.manager.Run(ctx, v.cfg.PeriodDuration(), v.cfg.Reset)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// shutdown stops every unit, the health server and the links.
func (v *vehicle) shutdown(ctx context.Context) error {
	var errs []error
	if v.health != nil && v.health.Addr() != nil {
		if err := v.health.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server: %w", err))
		}
	}
	if err := v.sup.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := v.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (v *vehicle) close() error {
	err := v.bus.Close()
	if v.shore != nil && !v.bus.LinkExists(v.cfg.Links.Redis.Link) {
		err = errors.Join(err, v.shore.Close())
	}
	return err
}
