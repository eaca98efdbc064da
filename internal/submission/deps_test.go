package submission

import (
	"testing"

	"tenxpipeline/testutil"
)

func TestSubmissionDependsOnInterfacesOnly(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.AnyOf(
		testutil.CloudSDKImportForbidden,
		testutil.InfraImportForbidden,
		testutil.SQLDriverImportForbidden,
	), "submission talks to batch.Submitter and ledger.Store")
}
