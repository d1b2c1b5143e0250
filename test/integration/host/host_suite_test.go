// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Quilt Contributors

//go:build integration

package host_test

import (
	"testing"

	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
)

func TestHostIntegration(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Plugin Host Integration Suite")
}
