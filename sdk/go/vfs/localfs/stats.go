// Copyright (C) The Arvados Authors. All rights reserved.
//
// SPDX-License-Identifier: Apache-2.0

package localfs

import (
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
)

// opsStats counts filesystem operations, errors and bytes
// transferred. The zero value (no registerer) counts nothing.
type opsStats struct {
	ops     *prometheus.CounterVec
	errs    *prometheus.CounterVec
	ioBytes *prometheus.CounterVec
}

func (s *opsStats) init(reg prometheus.Registerer) {
	if reg == nil {
		return
	}
	s.ops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "localfs",
		Name:      "operations",
		Help:      "Number of filesystem operations",
	}, []string{"operation"})
	s.errs = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "localfs",
		Name:      "errors",
		Help:      "Number of filesystem errors",
	}, []string{"error_type"})
	s.ioBytes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vfs",
		Subsystem: "localfs",
		Name:      "io_bytes",
		Help:      "Bytes read/written",
	}, []string{"direction"})
	reg.MustRegister(s.ops, s.errs, s.ioBytes)
}

func (s *opsStats) tick(op string) {
	if s.ops != nil {
		s.ops.WithLabelValues(op).Inc()
	}
}

func (s *opsStats) tickErr(err error) {
	if err == nil || s.errs == nil {
		return
	}
	s.errs.WithLabelValues(errorType(err)).Inc()
}

func (s *opsStats) tickIn(n int) {
	if n > 0 && s.ioBytes != nil {
		s.ioBytes.WithLabelValues("in").Add(float64(n))
	}
}

func (s *opsStats) tickOut(n int) {
	if n > 0 && s.ioBytes != nil {
		s.ioBytes.WithLabelValues("out").Add(float64(n))
	}
}

func errorType(err error) string {
	var pe *os.PathError
	if errors.As(err, &pe) {
		err = pe.Err
	}
	return fmt.Sprintf("%T", err)
}
